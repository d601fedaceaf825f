package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxScanText bounds the text of an element considered by the DOM scan;
// larger blocks are layout containers, not result entries.
const maxScanText = 400

// domScan looks at the deepest elements whose text carries an amount and
// takes the entity from the text right before it.
type domScan struct{}

func (domScan) Name() string { return "dom-scan" }

func (d domScan) Extract(p *Page) []Record {
	var out []Record
	p.Doc.Find("body *").Each(func(_ int, el *goquery.Selection) {
		switch goquery.NodeName(el) {
		case "script", "style", "noscript", "template", "option", "select", "input", "textarea":
			return
		}
		text := CleanText(el.Text())
		if len(text) > maxScanText || !HasAmount(text) {
			return
		}
		deeper := el.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
			return HasAmount(c.Text())
		})
		if deeper.Length() > 0 {
			return
		}
		if inBoilerplate(el) || isNavContext(text) {
			return
		}

		prevEnd := 0
		for _, loc := range FindAmounts(text) {
			amount := text[loc[0]:loc[1]]
			entity := entityBefore(text[prevEnd:loc[0]], p.owners)
			prevEnd = loc[1]
			if entity == "" {
				entity = entityAround(el, p.owners)
			}
			if entity == "" {
				p.addCandidate("", amount, text)
				continue
			}
			if rec, ok := newRecord(entity, amount, text, d.Name()); ok {
				out = append(out, rec)
			}
		}
	})
	return out
}

// entityAround looks outside el: the parent's text before el, then the
// previous sibling element.
func entityAround(el *goquery.Selection, owners []string) string {
	own := CleanText(el.Text())
	if parent := el.Parent(); parent.Length() > 0 {
		pt := CleanText(parent.Text())
		if len(pt) <= maxScanText {
			if i := strings.Index(pt, own); i > 0 {
				if e := entityBefore(pt[:i], owners); e != "" {
					return e
				}
			}
		}
	}
	if prev := el.Prev(); prev.Length() > 0 {
		pt := CleanText(prev.Text())
		if !HasAmount(pt) && len(pt) <= maxScanText {
			return entityBefore(pt, owners)
		}
	}
	return ""
}

// entityBefore returns the nearest acceptable entity at the end of prefix.
// Segments are split at cell and bullet separators and tried last first.
func entityBefore(prefix string, owners []string) string {
	segs := strings.FieldsFunc(prefix, func(r rune) bool {
		return r == '|' || r == '•' || r == '\n' || r == '\t'
	})
	for i := len(segs) - 1; i >= 0; i-- {
		e := CleanEntity(segs[i])
		if isTrivialEntity(e) || isCodeLike(e) || isOwnerName(e, owners) || isNavContext(e) {
			continue
		}
		return e
	}
	return ""
}

// lineContext scans the visible text line by line. The entity is the text
// before the amount on the same line or the nearest preceding line.
type lineContext struct{}

// lookBehind is how many previous lines may supply an entity.
const lookBehind = 3

func (lineContext) Name() string { return "line-context" }

func (l lineContext) Extract(p *Page) []Record {
	var out []Record
	for i, line := range p.Lines {
		if isNavContext(line) {
			continue
		}
		prevEnd := 0
		for _, loc := range FindAmounts(line) {
			amount := line[loc[0]:loc[1]]
			entity := entityBefore(line[prevEnd:loc[0]], p.owners)
			prevEnd = loc[1]
			if entity == "" {
				entity = p.entityAbove(i)
			}
			if entity == "" {
				p.addCandidate("", amount, line)
				continue
			}
			if rec, ok := newRecord(entity, amount, line, l.Name()); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (p *Page) entityAbove(i int) string {
	for j := i - 1; j >= 0 && j >= i-lookBehind; j-- {
		prev := p.Lines[j]
		if HasAmount(prev) {
			return ""
		}
		if isNavContext(prev) {
			continue
		}
		if e := entityBefore(prev, p.owners); e != "" {
			return e
		}
	}
	return ""
}
