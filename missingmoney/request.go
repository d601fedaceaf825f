package missingmoney

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/missingmoney/extract"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
	"github.com/hazyhaar/missingmoney/names"
)

// Request is one search as received from a caller.
type Request struct {
	FirstName string `json:"firstName" validate:"required,notblank"`
	LastName  string `json:"lastName" validate:"required,notblank"`
	City      string `json:"city" validate:"required,notblank"`
	State     string `json:"state" validate:"required,notblank"`

	// UseSolver asks for challenges to be solved through the solver API.
	UseSolver    bool   `json:"use2Captcha"`
	SolverAPIKey string `json:"captchaApiKey,omitempty"`
}

// Normalized is a request after name and state normalisation.
type Normalized struct {
	Form driver.Form
	// Owners are the searched person's name variants, used to reject owner
	// cells when picking an entity.
	Owners []string
}

// Normalize strips diacritics and symbols from the names, expands a known
// nickname to its longest alias and maps a state abbreviation to the full
// name.
func (r Request) Normalize() (Normalized, error) {
	first := names.Person(r.FirstName)
	last := names.Clean(r.LastName)
	if first == "" || last == "" {
		return Normalized{}, fmt.Errorf("%w: first and last name are required", ErrInvalidRequest)
	}

	state := names.State(r.State)
	n := Normalized{
		Form: driver.Form{
			LastName:  last,
			FirstName: first,
			City:      names.Clean(r.City),
			State:     state,
			StateCode: names.StateCode(state),
		},
	}

	rawFirst := names.Clean(r.FirstName)
	n.Owners = uniq(
		first+" "+last,
		last+" "+first,
		last+", "+first,
		rawFirst+" "+last,
		last+" "+rawFirst,
	)
	return n, nil
}

func uniq(vals ...string) []string {
	seen := make(map[string]bool, len(vals))
	out := vals[:0]
	for _, v := range vals {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// Record is one result row returned to callers.
type Record struct {
	Entity     string  `json:"entity"`
	Amount     string  `json:"amount"`
	Value      float64 `json:"value"`
	RawContext string  `json:"rawContext,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// Outcome is the single terminal value of a search.
type Outcome struct {
	Success     bool     `json:"success"`
	Results     []Record `json:"results"`
	TotalAmount float64  `json:"totalAmount"`
	Message     string   `json:"message,omitempty"`
	Error       string   `json:"error,omitempty"`
	Retryable   bool     `json:"retryable,omitempty"`

	SearchID string `json:"searchId,omitempty"`
	Kind     Kind   `json:"kind,omitempty"`
}

func successOutcome(res *extract.Result) *Outcome {
	out := &Outcome{
		Success:     true,
		Results:     make([]Record, 0, len(res.Records)),
		TotalAmount: res.Total,
	}
	for _, r := range res.Records {
		out.Results = append(out.Results, Record{
			Entity:     r.Entity,
			Amount:     r.Amount,
			Value:      r.Value,
			RawContext: r.RawContext,
			Source:     r.Source,
		})
	}
	switch n := len(out.Results); {
	case n == 0:
		out.Message = "No unclaimed property found for this name."
	case n == 1:
		out.Message = fmt.Sprintf("Found 1 result totaling %s.", extract.FormatAmount(res.Total))
	default:
		out.Message = fmt.Sprintf("Found %d results totaling %s.", n, extract.FormatAmount(res.Total))
	}
	return out
}

func failureOutcome(err error) *Outcome {
	se := Classify(err)
	return &Outcome{
		Success:   false,
		Results:   []Record{},
		Error:     se.Msg,
		Retryable: se.Retryable,
		Kind:      se.Kind,
	}
}
