package extract

import (
	"html"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.StrictPolicy()

var (
	multiSpaceRe   = regexp.MustCompile(`\s+`)
	labelPrefixRe  = regexp.MustCompile(`(?i)^(?:reported\s*by|holder(?:\s*name)?|company|business(?:\s*name)?|entity|paid\s*by|payer|issuer|from)\s*[:\-–]\s*`)
	codeLikeRe     = regexp.MustCompile(`^[A-Z0-9#/\-_.]{3,}$`)
	numericishRe   = regexp.MustCompile(`^[\d\s\-/.,#()]+$`)
	stateCodeRe    = regexp.MustCompile(`^[A-Z]{2}$`)
	navContextRe   = regexp.MustCompile(`(?i)\b(?:privacy|terms of (?:use|service)|copyright|faq|contact us|log ?in|sign ?(?:in|up)|newsletter|cookies?|menu|about us|help center|no fee|free of charge|processing fee|search again|new search|start a claim|claim your|donate|subscribe|advertis\w*)\b|©`)
	noResultsRe    = regexp.MustCompile(`(?i)\bno (?:results|records|matches|properties|claims)(?: (?:were|was))? found\b|\b(?:returned|found|there (?:are|were)) no (?:results|records|matches|properties)\b|\b0 (?:results|records|matches|properties) found\b|\bdid not (?:return|find) any\b|\bwe (?:were|are) unable to find\b|\bno matching (?:records|properties)\b`)
	resultHintRe   = regexp.MustCompile(`(?i)(?:\b(\d[\d,]*)\s+(?:results?|records?|properties|matches|claims)\s+(?:found|returned|matched))|(?:\b(?:found|showing|displaying|returned)\s+(\d[\d,]*)\s+(?:results?|records?|properties|matches|claims))|(?:\bof\s+(\d[\d,]*)\s+(?:results|records|entries|properties))`)
	trivialLabelRe = regexp.MustCompile(`(?i)^(?:amount|value|name|owner(?:\s*name)?|address|city|state|zip(?:\s*code)?|n/?a|none|unknown|details?|view|select|claim|action|total|results?|property(?:\s*(?:type|id))?|type|id|cash|-+)$`)
)

// CleanText normalises extracted text: HTML is stripped, zero-width
// characters removed and whitespace collapsed.
func CleanText(text string) string {
	if strings.ContainsAny(text, "<&") {
		text = html.UnescapeString(sanitizer.Sanitize(text))
	}
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		case '\u00a0':
			return ' '
		}
		return r
	}, text)
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(text, " "))
}

// CleanEntity turns a cell or text fragment into an entity name: label
// prefixes and amount expressions are removed and edge punctuation trimmed.
func CleanEntity(s string) string {
	s = CleanText(s)
	s = currencyRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
	s = labelPrefixRe.ReplaceAllString(s, "")
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(":-–|,;•·*>", r)
	})
	if len(s) > maxEntityBytes {
		n := maxEntityBytes
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = strings.TrimSpace(s[:n])
	}
	return s
}

const maxEntityBytes = 120

// isTrivialEntity rejects strings that cannot name an issuing entity.
func isTrivialEntity(s string) bool {
	if len(s) < 2 || trivialLabelRe.MatchString(s) {
		return true
	}
	if numericishRe.MatchString(s) || stateCodeRe.MatchString(s) {
		return true
	}
	return !strings.ContainsFunc(s, unicode.IsLetter)
}

// isCodeLike reports identifiers such as property ids and reference numbers.
func isCodeLike(s string) bool {
	return codeLikeRe.MatchString(s) && strings.ContainsFunc(s, unicode.IsDigit)
}

// ownerSimilarity is the Jaro-Winkler threshold above which an entity is
// taken to be the searched owner rather than the issuing entity.
const ownerSimilarity = 0.88

// isOwnerName reports whether s names one of the searched owners. Both the
// whole string and its token set are compared so "DOE JOHN" matches
// "John Doe".
func isOwnerName(s string, owners []string) bool {
	if len(owners) == 0 || s == "" {
		return false
	}
	up := strings.ToUpper(s)
	sorted := sortedTokens(up)
	for _, o := range owners {
		ou := strings.ToUpper(strings.TrimSpace(o))
		if ou == "" {
			continue
		}
		if matchr.JaroWinkler(up, ou, false) >= ownerSimilarity {
			return true
		}
		if matchr.JaroWinkler(sorted, sortedTokens(ou), false) >= ownerSimilarity {
			return true
		}
	}
	return false
}

func sortedTokens(s string) string {
	f := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	slices.Sort(f)
	return strings.Join(f, " ")
}

// isNavContext reports text that belongs to navigation, legal or marketing
// boilerplate rather than to a result.
func isNavContext(s string) bool {
	return navContextRe.MatchString(s)
}

// HasNoResultsPhrase reports whether the page explicitly states that the
// search matched nothing.
func HasNoResultsPhrase(text string) bool {
	return noResultsRe.MatchString(text)
}

// ResultCountHint returns the largest result count the page text claims,
// or 0 when it claims none.
func ResultCountHint(text string) int {
	best := 0
	for _, m := range resultHintRe.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if v, ok := parseNumber(g); ok && int(v) > best {
				best = int(v)
			}
		}
	}
	return best
}
