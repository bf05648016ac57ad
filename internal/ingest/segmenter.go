package ingest

import (
	"regexp"
	"strings"
)

// Segment is one evidence-unit candidate produced from a parsed page. The
// segmenter emits segments in reading order; indexes are assigned after the
// minimum-length filter so they stay contiguous.
type Segment struct {
	Index       int
	Text        string
	Page        int
	ArticleID   *string
	SectionPath *string
	StartOffset int
	EndOffset   int
}

// SegmenterConfig controls node granularity.
type SegmenterConfig struct {
	// SentenceWindow is the number of sentences grouped into one node.
	SentenceWindow int
	// MinNodeChars drops segments shorter than this after trimming.
	MinNodeChars int
}

// Segmenter turns parsed pages into ordered segments. It runs a structural
// pass first (headings build the section path, article headers pin the
// article id), then groups paragraph sentences into fixed windows.
type Segmenter struct {
	window   int
	minChars int
}

// NewSegmenter creates a segmenter.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SentenceWindow <= 0 {
		cfg.SentenceWindow = 2
	}
	if cfg.MinNodeChars <= 0 {
		cfg.MinNodeChars = 16
	}
	return &Segmenter{window: cfg.SentenceWindow, minChars: cfg.MinNodeChars}
}

var (
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	articlePattern = regexp.MustCompile(`(?i)^(?:#{1,6}\s+)?(?:article|art\.?|§)\s+(\d+[a-z]?)\b`)
	sentenceEnd    = regexp.MustCompile(`([.!?])\s+`)
)

// Segment produces ordered segments for all pages of a document.
func (s *Segmenter) Segment(doc *ParsedDocument) []Segment {
	var out []Segment

	// Heading stack and article id carry across pages.
	var headings []string
	var article *string

	for _, page := range doc.Pages {
		cursor := 0
		for _, block := range strings.Split(page.Text, "\n\n") {
			trimmed := strings.TrimSpace(block)
			if trimmed == "" {
				continue
			}

			blockStart := strings.Index(page.Text[cursor:], trimmed)
			if blockStart >= 0 {
				blockStart += cursor
				cursor = blockStart + len(trimmed)
			} else {
				blockStart = cursor
			}

			if m := articlePattern.FindStringSubmatch(trimmed); m != nil {
				id := m[1]
				article = &id
			}

			if m := headingPattern.FindStringSubmatch(firstLine(trimmed)); m != nil {
				level := len(m[1])
				title := strings.TrimSpace(m[2])
				if level-1 < len(headings) {
					headings = headings[:level-1]
				}
				headings = append(headings, title)
				// A bare heading carries no evidence text of its own.
				if firstLine(trimmed) == trimmed {
					continue
				}
				trimmed = strings.TrimSpace(trimmed[len(firstLine(trimmed)):])
			}

			section := sectionPath(headings)
			for _, win := range s.windows(trimmed) {
				winStart := strings.Index(page.Text[blockStart:], win)
				start, end := blockStart, blockStart+len(win)
				if winStart >= 0 {
					start = blockStart + winStart
					end = start + len(win)
				}

				if len(win) < s.minChars {
					continue
				}
				out = append(out, Segment{
					Index:       len(out),
					Text:        win,
					Page:        page.Number,
					ArticleID:   article,
					SectionPath: section,
					StartOffset: start,
					EndOffset:   end,
				})
			}
		}
	}
	return out
}

// windows splits a paragraph into sentences and groups consecutive
// sentences into windows of the configured size.
func (s *Segmenter) windows(paragraph string) []string {
	sentences := splitSentences(paragraph)
	if len(sentences) == 0 {
		return nil
	}

	var out []string
	for i := 0; i < len(sentences); i += s.window {
		end := i + s.window
		if end > len(sentences) {
			end = len(sentences)
		}
		out = append(out, strings.TrimSpace(strings.Join(sentences[i:end], " ")))
	}
	return out
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")

	var sentences []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

func sectionPath(headings []string) *string {
	if len(headings) == 0 {
		return nil
	}
	path := strings.Join(headings, " > ")
	return &path
}

func firstLine(text string) string {
	if idx := strings.Index(text, "\n"); idx >= 0 {
		return text[:idx]
	}
	return text
}
