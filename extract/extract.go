// Package extract pulls unclaimed-property records out of a loaded results
// page whose layout is not under our control.
//
// Strategies run as a cascade, from strict to permissive:
//
//	tables             column roles from attributes, header labels, then position
//	tables-loose       only when tables found 1..9 records
//	tables-aggressive  only when the page claims more results than found so far
//	dom-scan           only when nothing was found
//	line-context       only when nothing was found
//
// Every amount is normalised (see NormalizeAmount) and records are
// deduplicated by (entity, amount) across passes.
package extract

import (
	"fmt"
	"strings"
	"unicode"
)

// PlaceholderEntity names the synthetic record returned when a page yields
// nothing and does not say so.
const PlaceholderEntity = "Undisclosed Property"

// Record is one extracted unclaimed-property entry.
type Record struct {
	Entity     string  `json:"entity"`
	Amount     string  `json:"amount"`
	Value      float64 `json:"value"`
	RawAmount  string  `json:"raw_amount,omitempty"`
	RawContext string  `json:"raw_context,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Strategy is one pass of the cascade.
type Strategy interface {
	Name() string
	Extract(p *Page) []Record
}

// Options controls extraction.
type Options struct {
	// OwnerNames are the searched person's name variants; table cells that
	// resemble them are never taken as the entity.
	OwnerNames []string

	// Placeholder enables the synthetic "Undisclosed Property" record when
	// nothing was found and the page has no "no results" phrase. Nil means on.
	Placeholder *bool
}

func (o Options) placeholder() bool {
	return o.Placeholder == nil || *o.Placeholder
}

// Result is the outcome of Run.
type Result struct {
	Records   []Record `json:"records"`
	Total     float64  `json:"total"`
	Pass      string   `json:"pass"`
	Hint      int      `json:"hint,omitempty"`
	NoResults bool     `json:"no_results,omitempty"`
}

// DefaultStrategies returns the cascade in order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		tableStrategy{mode: tablesStrict},
		tableStrategy{mode: tablesLoose},
		tableStrategy{mode: tablesAggressive},
		domScan{},
		lineContext{},
	}
}

// Run extracts records from rawHTML. text is the page's visible text as
// reported by the browser; it may be empty.
func Run(rawHTML, text string, opts Options) (*Result, error) {
	p, err := NewPage(rawHTML, text, opts.OwnerNames)
	if err != nil {
		return nil, fmt.Errorf("extract: parse page: %w", err)
	}
	return RunPage(p, DefaultStrategies(), opts), nil
}

// RunPage runs strategies over p. The gate before each pass depends on its
// position in the default cascade, so custom lists should keep that order.
func RunPage(p *Page, strategies []Strategy, opts Options) *Result {
	res := &Result{
		Hint:      ResultCountHint(p.Text),
		NoResults: HasNoResultsPhrase(p.Text),
	}

	seen := make(map[string]bool)
	var records []Record
	add := func(pass string, recs []Record) {
		added := false
		for _, r := range recs {
			k := dedupKey(r)
			if seen[k] {
				continue
			}
			seen[k] = true
			records = append(records, r)
			added = true
		}
		if added {
			res.Pass = pass
		}
	}

	for i, s := range strategies {
		if !shouldRun(i, len(records), res.Hint) {
			continue
		}
		add(s.Name(), s.Extract(p))
	}

	if len(records) == 0 && len(p.candidates) > 0 {
		add("raw-candidates", rawCandidates(p.candidates))
	}
	if len(records) == 0 && !res.NoResults && opts.placeholder() {
		add("placeholder", []Record{{
			Entity: PlaceholderEntity,
			Amount: FormatAmount(UndisclosedValue),
			Value:  UndisclosedValue,
			Source: "placeholder",
		}})
	}

	res.Records = records
	if res.Records == nil {
		res.Records = []Record{}
	}
	for _, r := range records {
		res.Total += r.Value
	}
	return res
}

// shouldRun gates pass i of the cascade given the records found so far.
func shouldRun(i, found, hint int) bool {
	switch i {
	case 0:
		return true
	case 1:
		return found >= 1 && found <= 9
	case 2:
		return hint > found
	default:
		return found == 0
	}
}

func dedupKey(r Record) string {
	return strings.ToLower(CleanEntity(r.Entity)) + "\x00" + fmt.Sprintf("%.2f", r.Value)
}

// newRecord normalises amount and builds a record. ok is false when the
// amount cannot be read.
func newRecord(entity, amount, context, source string) (Record, bool) {
	v, ok := NormalizeAmount(amount)
	if !ok {
		return Record{}, false
	}
	return Record{
		Entity:     entity,
		Amount:     FormatAmount(v),
		Value:      v,
		RawAmount:  CleanText(amount),
		RawContext: CleanText(context),
		Source:     source,
	}, true
}

// rawCandidates turns unpaired amounts into records with minimal cleaning.
func rawCandidates(cands []Record) []Record {
	var out []Record
	for _, c := range cands {
		entity := CleanEntity(c.Entity)
		if entity == "" || !strings.ContainsFunc(entity, unicode.IsLetter) {
			entity = "Unknown Entity"
		}
		if rec, ok := newRecord(entity, c.RawAmount, c.RawContext, "raw-candidates"); ok {
			out = append(out, rec)
		}
	}
	return out
}
