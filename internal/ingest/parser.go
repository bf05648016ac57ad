// Package ingest turns source files into persisted, embedded evidence nodes.
package ingest

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParserName and ParserVersion are recorded on every document so a stored
// corpus can be traced back to the code that segmented it.
const (
	ParserName    = "markdown"
	ParserVersion = "1.0"
)

// ParsedDocument is the page-structured form of a source file.
type ParsedDocument struct {
	Title    string
	Pages    []ParsedPage
	Metadata map[string]interface{}
}

// ParsedPage is one page of source text. Numbers start at 1.
type ParsedPage struct {
	Number int
	Text   string
}

// Parser extracts page-structured text from Markdown or plain text. Pages
// are delimited by form feeds or explicit page markers; a file without
// either is a single page.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

var (
	pageMarkerPattern  = regexp.MustCompile(`(?mi)^<!--\s*page:?\s*(\d+)\s*-->\s*$`)
	headingLinePattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// Parse splits content into pages and extracts title metadata.
func (p *Parser) Parse(content string) (*ParsedDocument, error) {
	doc := &ParsedDocument{Metadata: map[string]interface{}{}}

	body := p.parseFrontmatter(content, doc)

	// Normalize page markers to form feeds, then split.
	body = pageMarkerPattern.ReplaceAllString(body, "\f")
	body = strings.ReplaceAll(body, "\r\n", "\n")

	pageNum := 0
	for _, raw := range strings.Split(body, "\f") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		pageNum++
		doc.Pages = append(doc.Pages, ParsedPage{Number: pageNum, Text: text})
	}

	if doc.Title == "" {
		if m := headingLinePattern.FindStringSubmatch(body); m != nil {
			doc.Title = strings.TrimSpace(m[1])
		}
	}
	return doc, nil
}

// parseFrontmatter strips a leading YAML frontmatter block and folds its
// fields into the document metadata. Malformed frontmatter is kept as body
// text rather than rejected.
func (p *Parser) parseFrontmatter(content string, doc *ParsedDocument) string {
	trimmed := strings.TrimLeft(content, "\ufeff\n ")
	if !strings.HasPrefix(trimmed, "---\n") {
		return content
	}

	rest := trimmed[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content
	}

	var fields map[string]interface{}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fields); err != nil {
		return content
	}

	for k, v := range fields {
		doc.Metadata[k] = v
	}
	if title, ok := fields["title"].(string); ok {
		doc.Title = title
	}

	body := rest[end+4:]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}
	return body
}
