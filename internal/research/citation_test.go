package research

import (
	"strings"
	"testing"
)

func TestFormatSourcesTable(t *testing.T) {
	sources := []SourceDocument{
		{URL: "https://a.com/page", Title: "First | Source"},
		{URL: "https://b.com:443/x"},
	}
	table := FormatSourcesTable(sources)
	lines := strings.Split(strings.TrimSpace(table), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), table)
	}
	if !strings.Contains(lines[2], `First \| Source`) {
		t.Fatalf("pipe must be escaped in cells: %s", lines[2])
	}
	if !strings.Contains(lines[3], "b.com") {
		t.Fatalf("missing title must fall back to domain: %s", lines[3])
	}
	if FormatSourcesTable(nil) != "" {
		t.Fatalf("empty sources must render nothing")
	}
}

func TestFormatCitation(t *testing.T) {
	got := FormatCitation(3, SourceDocument{URL: "https://example.com/a", Title: "A Story"})
	want := "[3] A Story (example.com) <https://example.com/a>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	bare := FormatCitation(1, SourceDocument{URL: "https://example.com:443/a"})
	if strings.Contains(bare, ":443") {
		t.Fatalf("default port must be stripped: %q", bare)
	}
}

func TestExtractDomain(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://Example.COM/path", "example.com"},
		{"https://a.com:443/x", "a.com"},
		{"http://b.com:80/", "b.com"},
		{"http://c.com:8080/", "c.com:8080"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extractDomain(tc.in); got != tc.want {
			t.Fatalf("extractDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
