package routing

import (
	"sort"
	"strings"
	"testing"
)

func testTable() Table {
	return Table{
		Rules: []Rule{
			{Domain: "seatraders.com", CC: []string{"ops@seatraders.com", "technical@seatraders.com"}},
			{Domain: "traders.com", CC: []string{"catchall@traders.com"}},
			{Domain: "bluewave.gr", CC: []string{"fleet@bluewave.gr"}},
		},
		InternalRecipients: []string{"alerts@prominencemaritime.com"},
		Companies: []Company{
			{Domain: "seatraders.com", Name: "Sea Traders S.A."},
			{Domain: "bluewave.gr", Name: "Bluewave Maritime"},
		},
		DefaultCompany: "Prominence Maritime",
	}
}

func TestResolveCCFirstMatchWins(t *testing.T) {
	table := testTable()

	// Both seatraders.com and traders.com are substrings of the
	// address; the earlier rule must win.
	cc := table.ResolveCC("master@seatraders.com")

	want := []string{"alerts@prominencemaritime.com", "ops@seatraders.com", "technical@seatraders.com"}
	assertStringSlice(t, cc, want)
}

func TestResolveCCIncludesInternalAlways(t *testing.T) {
	table := testTable()

	cc := table.ResolveCC("master@unknownfleet.example")

	want := []string{"alerts@prominencemaritime.com"}
	assertStringSlice(t, cc, want)
}

func TestResolveCCCaseInsensitive(t *testing.T) {
	table := testTable()

	lower := table.ResolveCC("master@bluewave.gr")
	upper := table.ResolveCC("MASTER@BLUEWAVE.GR")

	assertStringSlice(t, upper, lower)
	if len(lower) != 2 {
		t.Fatalf("expected rule match plus internal, got %v", lower)
	}
}

func TestResolveCCDeduplicatesUnion(t *testing.T) {
	table := Table{
		Rules: []Rule{
			{Domain: "seatraders.com", CC: []string{"alerts@prominencemaritime.com", "ops@seatraders.com", "ops@seatraders.com"}},
		},
		InternalRecipients: []string{"alerts@prominencemaritime.com"},
	}

	cc := table.ResolveCC("master@seatraders.com")

	want := []string{"alerts@prominencemaritime.com", "ops@seatraders.com"}
	assertStringSlice(t, cc, want)
}

func TestResolveCCSorted(t *testing.T) {
	table := testTable()

	cc := table.ResolveCC("master@seatraders.com")

	if !sort.StringsAreSorted(cc) {
		t.Errorf("cc list not sorted: %v", cc)
	}
}

func TestCompanyName(t *testing.T) {
	table := testTable()

	tests := []struct {
		address string
		want    string
	}{
		{"master@seatraders.com", "Sea Traders S.A."},
		{"MASTER@SEATRADERS.COM", "Sea Traders S.A."},
		{"master@bluewave.gr", "Bluewave Maritime"},
		{"master@unknownfleet.example", "Prominence Maritime"},
	}

	for _, tt := range tests {
		if got := table.CompanyName(tt.address); got != tt.want {
			t.Errorf("CompanyName(%q) = %q, want %q", tt.address, got, tt.want)
		}
	}
}

func TestParseValid(t *testing.T) {
	data := []byte(`
rules:
  - domain: seatraders.com
    cc:
      - ops@seatraders.com
internal_recipients:
  - alerts@prominencemaritime.com
companies:
  - domain: seatraders.com
    name: Sea Traders S.A.
default_company: Prominence Maritime
`)

	table, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(table.Rules) != 1 || table.Rules[0].Domain != "seatraders.com" {
		t.Errorf("unexpected rules: %+v", table.Rules)
	}
	if table.DefaultCompany != "Prominence Maritime" {
		t.Errorf("unexpected default company: %q", table.DefaultCompany)
	}
}

func TestParseRejectsEmptyDomain(t *testing.T) {
	data := []byte(`
rules:
  - domain: ""
    cc:
      - ops@seatraders.com
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected error for empty rule domain")
	}
	if !strings.Contains(err.Error(), "empty domain") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("rules: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func assertStringSlice(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
