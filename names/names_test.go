package names

import "testing"

func TestClean(t *testing.T) {
	cases := map[string]string{
		"José":             "Jose",
		"  Zoë   Ångström ": "Zoe Angstrom",
		"O'Brien":          "OBrien",
		"Smith-Jones":      "Smith-Jones",
		"J.R. (Junior)!":   "JR Junior",
		"":                 "",
		"--":               "",
	}
	for in, want := range cases {
		if got := Clean(in); got != want {
			t.Errorf("Clean(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpandNickname_LongestThenFirstListed(t *testing.T) {
	cases := map[string]string{
		"Ben":   "Benjamin", // Benjamin and Benedict tie; first listed wins
		"al":    "Albert",   // Albert/Alfred tie at 6, Alan shorter
		"CHRIS": "Christopher",
		"bob":   "Robert",
	}
	for in, want := range cases {
		got, ok := ExpandNickname(in)
		if !ok || got != want {
			t.Errorf("ExpandNickname(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ExpandNickname("Benjamin"); ok {
		t.Error("formal names must not expand")
	}
}

func TestPerson(t *testing.T) {
	if got := Person(" bén "); got != "Benjamin" {
		t.Fatalf("Person = %q, want Benjamin", got)
	}
	if got := Person("Müller"); got != "Muller" {
		t.Fatalf("Person = %q, want Muller", got)
	}
}

func TestState(t *testing.T) {
	cases := map[string]string{
		"TX":        "Texas",
		"tx":        "Texas",
		"texas":     "Texas",
		"New York":  "New York",
		"Atlantis!": "Atlantis",
	}
	for in, want := range cases {
		if got := State(in); got != want {
			t.Errorf("State(%q) = %q, want %q", in, got, want)
		}
	}
	if got := StateCode("texas"); got != "TX" {
		t.Errorf("StateCode(texas) = %q", got)
	}
	if got := StateCode("nowhere"); got != "" {
		t.Errorf("StateCode(nowhere) = %q, want empty", got)
	}
}
