package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is a loaded results page as seen by the strategies.
type Page struct {
	Doc   *goquery.Document
	Text  string   // visible text, one block per line
	Lines []string // non-empty cleaned lines of Text, cells joined by " | "

	owners     []string
	candidates []Record
	rows       map[string]bool // table rows already turned into records
}

// NewPage parses rawHTML. When text (the browser's innerText) is empty the
// visible text is derived from the DOM.
func NewPage(rawHTML, text string, owners []string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" && len(doc.Nodes) > 0 {
		text = blockText(doc.Nodes[0])
	}

	p := &Page{Doc: doc, Text: text, owners: owners, rows: make(map[string]bool)}
	for _, l := range strings.Split(text, "\n") {
		l = strings.Trim(strings.ReplaceAll(l, "\t", " | "), " |")
		if l = CleanText(l); l != "" {
			p.Lines = append(p.Lines, l)
		}
	}
	return p, nil
}

// addCandidate remembers an amount that no strategy could pair with an
// acceptable entity.
func (p *Page) addCandidate(entity, amount, context string) {
	p.candidates = append(p.candidates, Record{
		Entity:     entity,
		RawAmount:  amount,
		RawContext: context,
	})
}

// claimRow marks a table row, keyed by its joined cells, as extracted.
func (p *Page) claimRow(key string) { p.rows[key] = true }

func (p *Page) rowClaimed(key string) bool { return p.rows[key] }

// blockText renders the visible text of n with a line break at every block
// boundary and a tab between table cells.
func blockText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					last := sb.String()[sb.Len()-1]
					if last != '\n' && last != '\t' && last != ' ' {
						sb.WriteByte(' ')
					}
				}
				sb.WriteString(t)
			}
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
				sb.WriteByte('\t')
			case isBlockTag(n.DataAtom):
				sb.WriteByte('\n')
			}
		}
	}
	walk(n)
	return sb.String()
}

func isBlockTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P, atom.Br,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Form,
		atom.Header, atom.Footer, atom.Nav, atom.Aside,
		atom.Figure, atom.Figcaption, atom.Details, atom.Summary:
		return true
	}
	return false
}

// inBoilerplate reports whether the selection sits inside navigation,
// header, footer or a similarly marked region.
func inBoilerplate(s *goquery.Selection) bool {
	for _, n := range s.Nodes {
		for p := n; p != nil; p = p.Parent {
			if p.Type == html.ElementNode && isBoilerplate(p) {
				return true
			}
		}
	}
	return false
}

func isBoilerplate(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Script, atom.Style, atom.Noscript:
		return true
	}
	for _, attr := range n.Attr {
		switch attr.Key {
		case "class", "id":
			lower := strings.ToLower(attr.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		case "role":
			switch attr.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "navbar", "nav-", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "modal", "popup",
}
