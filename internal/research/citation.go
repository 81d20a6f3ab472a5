package research

import (
	"fmt"
	"net/url"
	"strings"
)

// FormatSourcesTable renders a numbered markdown sources table:
// | n | title | url |. Used when a caller needs the table independent of the
// model's own rendering (plain-text variants, persisted briefs).
func FormatSourcesTable(sources []SourceDocument) string {
	if len(sources) == 0 {
		return ""
	}
	b := &strings.Builder{}
	b.WriteString("| # | Source | URL |\n|---|--------|-----|\n")
	for i, s := range sources {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = extractDomain(s.URL)
		}
		fmt.Fprintf(b, "| %d | %s | %s |\n", i+1, sanitizeCell(title), s.URL)
	}
	return b.String()
}

// FormatCitation renders a single inline citation line:
// [n] Title (domain) <url>
func FormatCitation(index int, s SourceDocument) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%d]", index))
	if title := strings.TrimSpace(s.Title); title != "" {
		parts = append(parts, title)
	}
	if domain := extractDomain(s.URL); domain != "" {
		parts = append(parts, "("+domain+")")
	}
	if link := strings.TrimSpace(s.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}

func extractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return host
}
