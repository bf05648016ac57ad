package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSinglePage(t *testing.T) {
	p := NewParser()

	doc, err := p.Parse("# Data Protection Act\n\nArticle 1 defines the scope of this regulation.")
	require.NoError(t, err)

	assert.Equal(t, "Data Protection Act", doc.Title)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, 1, doc.Pages[0].Number)
}

func TestParseFrontmatter(t *testing.T) {
	p := NewParser()

	content := "---\ntitle: Privacy Regulation\njurisdiction: EU\n---\n\nArticle 1. Scope of application."
	doc, err := p.Parse(content)
	require.NoError(t, err)

	assert.Equal(t, "Privacy Regulation", doc.Title)
	assert.Equal(t, "EU", doc.Metadata["jurisdiction"])
	require.Len(t, doc.Pages, 1)
	assert.NotContains(t, doc.Pages[0].Text, "jurisdiction")
}

func TestParseFormFeedPages(t *testing.T) {
	p := NewParser()

	doc, err := p.Parse("First page text here.\fSecond page text here.\fThird page text here.")
	require.NoError(t, err)

	require.Len(t, doc.Pages, 3)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, 3, doc.Pages[2].Number)
	assert.Equal(t, "Second page text here.", doc.Pages[1].Text)
}

func TestParsePageMarkers(t *testing.T) {
	p := NewParser()

	content := "Intro text for the act.\n\n<!-- page: 2 -->\nArticle 5 on lawful processing."
	doc, err := p.Parse(content)
	require.NoError(t, err)

	require.Len(t, doc.Pages, 2)
	assert.Contains(t, doc.Pages[1].Text, "Article 5")
}

func TestParseEmptyPagesDropped(t *testing.T) {
	p := NewParser()

	doc, err := p.Parse("Only page.\f\f  \f")
	require.NoError(t, err)
	assert.Len(t, doc.Pages, 1)
}

func TestParseMalformedFrontmatterKept(t *testing.T) {
	p := NewParser()

	content := "---\n: not yaml [\n---\nBody text survives."
	doc, err := p.Parse(content)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Pages)
	assert.Contains(t, doc.Pages[len(doc.Pages)-1].Text, "Body text survives.")
}
