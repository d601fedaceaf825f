package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type tableMode int

const (
	tablesStrict tableMode = iota
	tablesLoose
	tablesAggressive
)

var (
	entityLabelRe = regexp.MustCompile(`(?i)reported\s*by|holder|company|business|entity|payer|issuer|reporting|institution|paid\s*by|source`)
	amountLabelRe = regexp.MustCompile(`(?i)amount|value|cash|balance|\$`)
	headerCellRe  = regexp.MustCompile(`(?i)^(?:owner(?:'?s)?(?:\s*name)?|name|address|street|city|state|zip(?:\s*code)?|reported\s*by|holder(?:\s*name)?|company|business|amount|value|cash(?:\s*reported)?|property\s*(?:type|id|number)|type|id|action|select|claim|details?|last\s*name|first\s*name|co-?owner)$`)
)

// attrKeys are the cell attributes read for column-role hints.
var attrKeys = []string{"data-label", "data-title", "data-column", "data-field", "headers", "aria-label", "class", "id"}

type tableStrategy struct {
	mode tableMode
}

func (s tableStrategy) Name() string {
	switch s.mode {
	case tablesLoose:
		return "tables-loose"
	case tablesAggressive:
		return "tables-aggressive"
	default:
		return "tables"
	}
}

func (s tableStrategy) Extract(p *Page) []Record {
	var out []Record
	p.Doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		if inBoilerplate(t) {
			return
		}
		out = append(out, s.scanTable(p, t)...)
	})
	return out
}

type tableCell struct {
	text  string
	hints string // lower-cased attribute values
	head  bool
}

type columnRoles struct {
	entity, amount int
}

var noRoles = columnRoles{entity: -1, amount: -1}

func (s tableStrategy) scanTable(p *Page, t *goquery.Selection) []Record {
	rows := t.Find("tr").FilterFunction(func(_ int, r *goquery.Selection) bool {
		return r.Closest("table").IsSelection(t)
	})

	var out []Record
	header := noRoles
	rows.Each(func(_ int, r *goquery.Selection) {
		cells := readCells(r)
		if len(cells) == 0 {
			return
		}
		if isHeaderRow(cells) {
			if header == noRoles {
				header = rolesFromLabels(cells)
			}
			return
		}
		if rec, ok := s.scanRow(p, cells, header); ok {
			out = append(out, rec)
		}
	})
	return out
}

func readCells(r *goquery.Selection) []tableCell {
	var cells []tableCell
	r.ChildrenFiltered("td, th").Each(func(_ int, c *goquery.Selection) {
		var hints []string
		for _, k := range attrKeys {
			if v, ok := c.Attr(k); ok && v != "" {
				hints = append(hints, strings.ToLower(v))
			}
		}
		cells = append(cells, tableCell{
			text:  CleanText(c.Text()),
			hints: strings.Join(hints, " "),
			head:  goquery.NodeName(c) == "th",
		})
	})
	return cells
}

// isHeaderRow matches rows made only of th cells or of column labels.
func isHeaderRow(cells []tableCell) bool {
	allHead, labels, filled := true, 0, 0
	for _, c := range cells {
		if !c.head {
			allHead = false
		}
		if c.text == "" {
			continue
		}
		filled++
		if HasAmount(c.text) {
			return false
		}
		if headerCellRe.MatchString(c.text) {
			labels++
		}
	}
	if filled == 0 {
		return false
	}
	return allHead || labels >= 2 || (labels == filled && labels > 0)
}

func rolesFromLabels(cells []tableCell) columnRoles {
	r := noRoles
	for i, c := range cells {
		switch {
		case r.amount < 0 && amountLabelRe.MatchString(c.text):
			r.amount = i
		case r.entity < 0 && entityLabelRe.MatchString(c.text):
			r.entity = i
		}
	}
	return r
}

func rolesFromAttributes(cells []tableCell) columnRoles {
	r := noRoles
	for i, c := range cells {
		if c.hints == "" {
			continue
		}
		switch {
		case r.amount < 0 && amountLabelRe.MatchString(c.hints):
			r.amount = i
		case r.entity < 0 && entityLabelRe.MatchString(c.hints):
			r.entity = i
		}
	}
	return r
}

// positionalEntityColumn is the entity column of the claim-search results
// layout: owner, co-owner, address, reported by, ...
const positionalEntityColumn = 3

func (s tableStrategy) scanRow(p *Page, cells []tableCell, header columnRoles) (Record, bool) {
	amtIdx := lastAmountCell(cells)
	if amtIdx < 0 {
		return Record{}, false
	}
	context := joinCells(cells)

	if s.mode == tablesAggressive {
		// Rows an earlier pass already read keep their entity.
		if p.rowClaimed(context) {
			return Record{}, false
		}
		entity := pickAnyEntity(p, cells, amtIdx)
		if entity == "" {
			p.addCandidate("", cells[amtIdx].text, context)
			return Record{}, false
		}
		return newRecord(entity, cells[amtIdx].text, context, s.Name())
	}

	roles := rolesFromAttributes(cells)
	if roles.entity < 0 {
		roles.entity = header.entity
	}
	if roles.amount < 0 {
		roles.amount = header.amount
	}
	if roles.entity < 0 && len(cells) >= 5 {
		roles.entity = positionalEntityColumn
	}
	if roles.amount >= 0 && roles.amount < len(cells) && HasAmount(cells[roles.amount].text) {
		amtIdx = roles.amount
	}

	entity := ""
	if roles.entity >= 0 && roles.entity < len(cells) && roles.entity != amtIdx {
		entity = s.accept(p, cells[roles.entity].text)
	}
	if entity == "" && (roles.entity < 0 || s.mode == tablesLoose) {
		for i, c := range cells {
			if i == amtIdx || i == roles.entity {
				continue
			}
			if entity = s.accept(p, c.text); entity != "" {
				break
			}
		}
	}
	if entity == "" {
		raw := ""
		if roles.entity >= 0 && roles.entity < len(cells) {
			raw = cells[roles.entity].text
		}
		p.addCandidate(raw, cells[amtIdx].text, context)
		return Record{}, false
	}
	rec, ok := newRecord(entity, cells[amtIdx].text, context, s.Name())
	if ok {
		p.claimRow(context)
	}
	return rec, ok
}

// accept returns the cleaned entity when it passes the mode's bar.
func (s tableStrategy) accept(p *Page, text string) string {
	e := CleanEntity(text)
	if isTrivialEntity(e) || isOwnerName(e, p.owners) || HasAmount(text) {
		return ""
	}
	if s.mode == tablesStrict && (len(e) < 3 || isCodeLike(e)) {
		return ""
	}
	return e
}

// pickAnyEntity chooses the longest non-numeric, non-code cell that is not
// the owner.
func pickAnyEntity(p *Page, cells []tableCell, amtIdx int) string {
	best := ""
	for i, c := range cells {
		if i == amtIdx || HasAmount(c.text) {
			continue
		}
		e := CleanEntity(c.text)
		if isTrivialEntity(e) || isCodeLike(e) || isOwnerName(e, p.owners) {
			continue
		}
		if len(e) > len(best) {
			best = e
		}
	}
	return best
}

func lastAmountCell(cells []tableCell) int {
	for i := len(cells) - 1; i >= 0; i-- {
		if HasAmount(cells[i].text) {
			return i
		}
	}
	return -1
}

func joinCells(cells []tableCell) string {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		if c.text != "" {
			parts = append(parts, c.text)
		}
	}
	return strings.Join(parts, " | ")
}
