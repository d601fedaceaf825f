package extract

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"UNDISCLOSED", 100},
		{"undisclosed", 100},
		{"OVER $500", 500},
		{"UNDER $200", 100},
		{"$50 TO $75", 50},
		{"$1,234.56", 1234.56},
		{"  $ 20 ", 20},
		{"100", 100},
	}
	for _, c := range cases {
		got, ok := NormalizeAmount(c.in)
		if !ok || math.Abs(got-c.want) > 0.001 {
			t.Errorf("NormalizeAmount(%q) = %v,%v want %v", c.in, got, ok, c.want)
		}
	}
	for _, bad := range []string{"", "n/a", "Acme Bank"} {
		if _, ok := NormalizeAmount(bad); ok {
			t.Errorf("NormalizeAmount(%q) should fail", bad)
		}
	}
}

func TestNormalizeAmount_Idempotent(t *testing.T) {
	for _, in := range []string{"UNDISCLOSED", "OVER $500", "UNDER $200", "$50 TO $75", "$1,234.56", "$0.50", "$1,000,000"} {
		v1, _ := NormalizeAmount(in)
		shown := FormatAmount(v1)
		v2, ok := NormalizeAmount(shown)
		if !ok || v1 != v2 {
			t.Errorf("%q: %v -> %q -> %v", in, v1, shown, v2)
		}
	}
	if got := FormatAmount(100); got != "$100" {
		t.Errorf("FormatAmount(100) = %q, want $100", got)
	}
	if got := FormatAmount(1234.56); got != "$1,234.56" {
		t.Errorf("FormatAmount(1234.56) = %q", got)
	}
}

func TestHasAmount(t *testing.T) {
	for _, s := range []string{"$5", "OVER $500", "Undisclosed", "paid $1,200.00 in 2019"} {
		if !HasAmount(s) {
			t.Errorf("HasAmount(%q) = false", s)
		}
	}
	for _, s := range []string{"78701", "TX", "", "Acme Bank"} {
		if HasAmount(s) {
			t.Errorf("HasAmount(%q) = true", s)
		}
	}
}

func TestRun_PositionalEntityRejectsOwner(t *testing.T) {
	page := `<html><body><table>
<tr><td>John Doe</td><td></td><td></td><td>Acme Bank</td><td>...</td><td>TX</td><td>78701</td><td></td><td>OVER $500</td></tr>
</table></body></html>`

	res, err := Run(page, "", Options{OwnerNames: []string{"John Doe"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %+v, want 1", res.Records)
	}
	r := res.Records[0]
	if r.Entity != "Acme Bank" {
		t.Errorf("Entity = %q, want Acme Bank", r.Entity)
	}
	if r.Value != 500 || r.Amount != "$500" {
		t.Errorf("amount = %q (%v), want $500", r.Amount, r.Value)
	}
	if res.Pass != "tables" {
		t.Errorf("Pass = %q, want tables", res.Pass)
	}
}

func TestRun_HeaderLabelsAndDedup(t *testing.T) {
	page := `<html><body><table>
<thead><tr><th>Owner Name</th><th>Address</th><th>Reported By</th><th>Amount</th></tr></thead>
<tbody>
<tr><td>SMITH BENJAMIN</td><td>123 MAIN ST AUSTIN TX</td><td>FIRST NATIONAL BANK</td><td>$1,250.00</td></tr>
<tr><td>SMITH BENJAMIN</td><td>123 MAIN ST AUSTIN TX</td><td>TEXAS UTILITY CO</td><td>UNDISCLOSED</td></tr>
<tr><td>SMITH BENJAMIN</td><td>PO BOX 5</td><td>FIRST NATIONAL BANK</td><td>$1,250.00</td></tr>
</tbody></table></body></html>`

	res, err := Run(page, "", Options{OwnerNames: []string{"Benjamin Smith"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %+v, want 2 after dedup", res.Records)
	}
	if res.Records[0].Entity != "FIRST NATIONAL BANK" || res.Records[1].Entity != "TEXAS UTILITY CO" {
		t.Errorf("entities = %q, %q", res.Records[0].Entity, res.Records[1].Entity)
	}
	if res.Records[1].Amount != "$100" {
		t.Errorf("undisclosed amount = %q, want $100", res.Records[1].Amount)
	}
	if res.Total != 1350 {
		t.Errorf("Total = %v, want 1350", res.Total)
	}
}

func TestRun_AggressiveWhenHintExceedsFound(t *testing.T) {
	page := `<html><body><p>Showing 2 results</p><table>
<tr><th>Name</th><th>Reported By</th><th>Amount</th><th>Notes</th></tr>
<tr><td>DOE JOHN</td><td>N/A</td><td>$40.00</td><td>STATE COMPTROLLER REFUND</td></tr>
<tr><td>DOE JOHN</td><td>N/A</td><td>UNDER $30</td><td>CITY OF AUSTIN</td></tr>
</table></body></html>`

	res, err := Run(page, "", Options{OwnerNames: []string{"John Doe"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Hint != 2 {
		t.Fatalf("Hint = %d, want 2", res.Hint)
	}
	if res.Pass != "tables-aggressive" {
		t.Fatalf("Pass = %q, want tables-aggressive", res.Pass)
	}
	if len(res.Records) != 2 || res.Records[0].Entity != "STATE COMPTROLLER REFUND" || res.Records[1].Entity != "CITY OF AUSTIN" {
		t.Fatalf("records = %+v", res.Records)
	}
	if res.Total != 55 {
		t.Errorf("Total = %v, want 55", res.Total)
	}
}

func TestRun_AggressiveSkipsRowsAlreadyRead(t *testing.T) {
	page := `<html><body><p>4 results found</p><table>
<tr><th>Owner</th><th>Address</th><th>Reported By</th><th>Amount</th></tr>
<tr><td>DOE JOHN</td><td>1234 Congress Avenue Apartment 5</td><td>ACME BANK</td><td>$500.00</td></tr>
<tr><td>DOE JOHN</td><td>1234 Congress Avenue Apartment 5</td><td>TEXAS UTILITY CO</td><td>$200.00</td></tr>
<tr><td>DOE JOHN</td><td>1234 Congress Avenue Apartment 5</td><td>N/A</td><td>$75.00</td></tr>
</table></body></html>`

	res, err := Run(page, "", Options{OwnerNames: []string{"John Doe"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Hint != 4 {
		t.Fatalf("Hint = %d, want 4", res.Hint)
	}
	if len(res.Records) != 3 {
		t.Fatalf("records = %+v, want 3", res.Records)
	}
	if res.Records[0].Entity != "ACME BANK" || res.Records[1].Entity != "TEXAS UTILITY CO" {
		t.Errorf("header-labelled rows = %+v", res.Records[:2])
	}
	if res.Records[2].Source != "tables-loose" || res.Records[2].Value != 75 {
		t.Errorf("loose row = %+v", res.Records[2])
	}
	if res.Total != 775 {
		t.Errorf("Total = %v, want 775", res.Total)
	}
}

func TestRun_DOMScan(t *testing.T) {
	page := `<html><body>
<nav><a href="/">Home</a> Donate $5 today</nav>
<div class="result"><span class="holder">Lone Star Credit Union</span> <span class="amt">$310.25</span></div>
<div class="result"><strong>Reported by: Gulf Coast Energy</strong><em>OVER $1,000</em></div>
<footer>Copyright 2026 - processing fee $0</footer>
</body></html>`

	res, err := Run(page, "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pass != "dom-scan" {
		t.Fatalf("Pass = %q, want dom-scan (records %+v)", res.Pass, res.Records)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %+v, want 2", res.Records)
	}
	if res.Records[0].Entity != "Lone Star Credit Union" || res.Records[0].Value != 310.25 {
		t.Errorf("first = %+v", res.Records[0])
	}
	if res.Records[1].Entity != "Gulf Coast Energy" || res.Records[1].Value != 1000 {
		t.Errorf("second = %+v", res.Records[1])
	}
}

func TestRun_LineContextAndRawCandidates(t *testing.T) {
	text := "Search Results for BENJAMIN SMITH\n" +
		"Privacy Policy | Terms of Use | $0 processing fee\n" +
		"HARRIS COUNTY TREASURER\n" +
		"$45.10\n" +
		"BENJAMIN SMITH\tUNDISCLOSED\n"

	res, err := Run("<html><body></body></html>", text, Options{OwnerNames: []string{"Benjamin Smith"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pass != "line-context" {
		t.Fatalf("Pass = %q, want line-context", res.Pass)
	}
	if len(res.Records) != 1 || res.Records[0].Entity != "HARRIS COUNTY TREASURER" || res.Records[0].Value != 45.10 {
		t.Fatalf("records = %+v", res.Records)
	}

	// Only an owner-labelled amount: the raw candidate survives.
	res, err = Run("<html><body></body></html>", "BENJAMIN SMITH\tUNDISCLOSED", Options{OwnerNames: []string{"Benjamin Smith"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pass != "raw-candidates" || len(res.Records) != 1 || res.Records[0].Amount != "$100" {
		t.Fatalf("raw fallback = %q %+v", res.Pass, res.Records)
	}
}

func TestRun_PlaceholderWhenNothingFound(t *testing.T) {
	page := `<html><body><h1>Search results</h1><p>Please review the claims below.</p></body></html>`

	res, err := Run(page, "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 || res.Records[0].Entity != PlaceholderEntity || res.Records[0].Amount != "$100" {
		t.Fatalf("records = %+v, want placeholder", res.Records)
	}
	if res.Total != 100 {
		t.Errorf("Total = %v, want 100", res.Total)
	}

	off := false
	res, _ = Run(page, "", Options{Placeholder: &off})
	if len(res.Records) != 0 {
		t.Fatalf("placeholder disabled: records = %+v", res.Records)
	}
}

func TestRun_NoResultsPhrase(t *testing.T) {
	page := `<html><body><p>No results found for your search.</p></body></html>`
	res, err := Run(page, "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.NoResults {
		t.Fatal("NoResults should be set")
	}
	if res.Records == nil || len(res.Records) != 0 || res.Total != 0 {
		t.Fatalf("records = %#v total = %v, want empty", res.Records, res.Total)
	}
}

func TestResultCountHint(t *testing.T) {
	cases := map[string]int{
		"12 results found":                  12,
		"Displaying 1-10 of 25 records":     25,
		"We found 3 properties for you":     3,
		"Showing 1,204 results":             1204,
		"Search again or browse categories": 0,
	}
	for in, want := range cases {
		if got := ResultCountHint(in); got != want {
			t.Errorf("ResultCountHint(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCleanEntity(t *testing.T) {
	cases := map[string]string{
		"Reported by: Gulf Coast Energy": "Gulf Coast Energy",
		"<b>Acme &amp; Sons</b>":         "Acme & Sons",
		"  ACME BANK - $500 ":            "ACME BANK",
		"Holder Name: Big Co, ":          "Big Co",
	}
	for in, want := range cases {
		if got := CleanEntity(in); got != want {
			t.Errorf("CleanEntity(%q) = %q, want %q", in, got, want)
		}
	}

	long := CleanEntity("A" + strings.Repeat("é", 60) + " Bank")
	if !utf8.ValidString(long) {
		t.Errorf("CleanEntity split a rune: %q", long)
	}
	if len(long) > 120 || !strings.HasPrefix(long, "Aé") {
		t.Errorf("CleanEntity long = %q (%d bytes)", long, len(long))
	}
}
