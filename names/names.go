// Package names normalizes the person and place fields of a search request
// before they are typed into the claim-search form.
//
// Pipeline for person names:
//  1. NFD decomposition and removal of combining marks (é -> e)
//  2. symbols dropped, letters, spaces and hyphens kept
//  3. whitespace collapsed
//  4. a known nickname is replaced by its longest formal alias
package names

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			norm.NFC,
		)
	},
}

// Clean strips diacritics and symbols from s and collapses whitespace.
// Letters, spaces and hyphens survive; everything else is dropped.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	folded, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || r == '-':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return strings.Trim(b.String(), "- ")
}

// Person cleans a first or last name and expands a known nickname.
func Person(s string) string {
	c := Clean(s)
	if full, ok := ExpandNickname(c); ok {
		return full
	}
	return c
}

// ExpandNickname returns the longest formal alias of a nickname. Ties go to
// the alias listed first. Lookup is case-insensitive.
func ExpandNickname(s string) (string, bool) {
	aliases, ok := nicknames[strings.ToLower(strings.TrimSpace(s))]
	if !ok || len(aliases) == 0 {
		return "", false
	}
	best := aliases[0]
	for _, a := range aliases[1:] {
		if len(a) > len(best) {
			best = a
		}
	}
	return best, true
}

// State maps a two-letter postal abbreviation to the state's full name.
// Full names and unknown values are returned cleaned but otherwise intact.
func State(s string) string {
	t := strings.TrimSpace(s)
	if full, ok := states[strings.ToUpper(t)]; ok {
		return full
	}
	for _, full := range states {
		if strings.EqualFold(full, t) {
			return full
		}
	}
	return Clean(t)
}

// StateCode is the inverse of State: it returns the abbreviation for a full
// state name or an abbreviation, or "" when unknown.
func StateCode(s string) string {
	t := strings.TrimSpace(s)
	if _, ok := states[strings.ToUpper(t)]; ok {
		return strings.ToUpper(t)
	}
	for code, full := range states {
		if strings.EqualFold(full, t) {
			return code
		}
	}
	return ""
}

var nicknames = map[string][]string{
	"abby":    {"Abigail"},
	"al":      {"Albert", "Alfred", "Alan"},
	"alex":    {"Alexander", "Alexandra"},
	"andy":    {"Andrew"},
	"barb":    {"Barbara"},
	"ben":     {"Benjamin", "Benedict"},
	"beth":    {"Elizabeth"},
	"betty":   {"Elizabeth"},
	"bill":    {"William"},
	"billy":   {"William"},
	"bob":     {"Robert"},
	"bobby":   {"Robert"},
	"cathy":   {"Catherine"},
	"charlie": {"Charles"},
	"chris":   {"Christopher", "Christine"},
	"chuck":   {"Charles"},
	"dan":     {"Daniel"},
	"danny":   {"Daniel"},
	"dave":    {"David"},
	"deb":     {"Deborah"},
	"debbie":  {"Deborah"},
	"dick":    {"Richard"},
	"don":     {"Donald"},
	"ed":      {"Edward", "Edwin"},
	"eddie":   {"Edward"},
	"frank":   {"Francis", "Franklin"},
	"fred":    {"Frederick"},
	"greg":    {"Gregory"},
	"hank":    {"Henry"},
	"jack":    {"John"},
	"jake":    {"Jacob"},
	"jeff":    {"Jeffrey"},
	"jen":     {"Jennifer"},
	"jenny":   {"Jennifer"},
	"jerry":   {"Gerald", "Jerome"},
	"jim":     {"James"},
	"jimmy":   {"James"},
	"joe":     {"Joseph"},
	"joey":    {"Joseph"},
	"jon":     {"Jonathan"},
	"kate":    {"Katherine"},
	"kathy":   {"Katherine"},
	"ken":     {"Kenneth"},
	"kim":     {"Kimberly"},
	"larry":   {"Lawrence"},
	"liz":     {"Elizabeth"},
	"matt":    {"Matthew"},
	"meg":     {"Margaret"},
	"mike":    {"Michael"},
	"nick":    {"Nicholas"},
	"pat":     {"Patrick", "Patricia"},
	"peggy":   {"Margaret"},
	"pete":    {"Peter"},
	"rich":    {"Richard"},
	"rick":    {"Richard"},
	"rob":     {"Robert"},
	"ron":     {"Ronald"},
	"sam":     {"Samuel", "Samantha"},
	"steve":   {"Stephen", "Steven"},
	"sue":     {"Susan"},
	"ted":     {"Theodore", "Edward"},
	"tim":     {"Timothy"},
	"tom":     {"Thomas"},
	"tommy":   {"Thomas"},
	"tony":    {"Anthony"},
	"vicky":   {"Victoria"},
	"will":    {"William"},
	"zach":    {"Zachary"},
}

var states = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"DC": "District of Columbia", "FL": "Florida", "GA": "Georgia", "HI": "Hawaii",
	"ID": "Idaho", "IL": "Illinois", "IN": "Indiana", "IA": "Iowa",
	"KS": "Kansas", "KY": "Kentucky", "LA": "Louisiana", "ME": "Maine",
	"MD": "Maryland", "MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota",
	"MS": "Mississippi", "MO": "Missouri", "MT": "Montana", "NE": "Nebraska",
	"NV": "Nevada", "NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico",
	"NY": "New York", "NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio",
	"OK": "Oklahoma", "OR": "Oregon", "PA": "Pennsylvania", "PR": "Puerto Rico",
	"RI": "Rhode Island", "SC": "South Carolina", "SD": "South Dakota", "TN": "Tennessee",
	"TX": "Texas", "UT": "Utah", "VT": "Vermont", "VA": "Virginia",
	"WA": "Washington", "WV": "West Virginia", "WI": "Wisconsin", "WY": "Wyoming",
}
