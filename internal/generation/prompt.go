// Package generation builds grounded prompts, calls the chat model and
// aligns the model's citations with the retrieved evidence.
package generation

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/core"
	"github.com/lexora-ai/rag-core/internal/llm"
)

// EvidenceItem is one retrieval hit offered to the model.
type EvidenceItem struct {
	NodeID      uuid.UUID
	Rank        int
	Text        string
	Page        int
	ArticleID   *string
	SectionPath *string
}

// PromptTemplate is a named, versioned prompt. The snapshot persisted with
// every generation record names the exact template used.
type PromptTemplate struct {
	Name    string
	Version string
	System  string
}

const legalQASystem = `You are a legal research assistant. Answer the question using ONLY the numbered evidence passages provided. Do not use outside knowledge.

Respond with a single JSON object and nothing else:
{"answer": "<your answer>", "citations": [{"node_id": "<id from the evidence>", "rank": <evidence number>}]}

Rules:
- Every claim in the answer must be supported by at least one citation.
- Cite only node_id values that appear in the evidence block.
- If the evidence does not answer the question, say so in the answer and cite the closest passages.`

// promptRegistry holds all known templates keyed by name and version.
var promptRegistry = map[string]map[string]PromptTemplate{
	"legal_qa": {
		"v1": {Name: "legal_qa", Version: "v1", System: legalQASystem},
	},
}

// LookupPrompt resolves a template by name and version.
func LookupPrompt(name, version string) (PromptTemplate, error) {
	versions, ok := promptRegistry[name]
	if !ok {
		return PromptTemplate{}, core.Ef(core.KindBadRequest, "unknown prompt: %s", name)
	}
	tpl, ok := versions[version]
	if !ok {
		return PromptTemplate{}, core.Ef(core.KindBadRequest, "unknown prompt version: %s/%s", name, version)
	}
	return tpl, nil
}

// BuildMessages renders the full message sequence for one question. The
// evidence block enumerates hits in rank order; each entry carries the
// node id the model must cite.
func BuildMessages(tpl PromptTemplate, question string, evidence []EvidenceItem) []llm.Message {
	var b strings.Builder
	b.WriteString("Evidence:\n")
	if len(evidence) == 0 {
		b.WriteString("(none)\n")
	}
	for _, item := range evidence {
		fmt.Fprintf(&b, "[%d] node_id=%s", item.Rank, item.NodeID)
		var loc []string
		if item.Page > 0 {
			loc = append(loc, fmt.Sprintf("page %d", item.Page))
		}
		if item.ArticleID != nil && *item.ArticleID != "" {
			loc = append(loc, "Article "+*item.ArticleID)
		}
		if item.SectionPath != nil && *item.SectionPath != "" {
			loc = append(loc, *item.SectionPath)
		}
		if len(loc) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(loc, ", "))
		}
		b.WriteString("\n")
		b.WriteString(item.Text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", question)

	return []llm.Message{
		{Role: "system", Content: tpl.System},
		{Role: "user", Content: b.String()},
	}
}
