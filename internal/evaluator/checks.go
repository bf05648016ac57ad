// Package evaluator runs deterministic quality checks over a message's
// evidence chain and persists a replayable verdict.
package evaluator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lexora-ai/rag-core/internal/config"
	"github.com/lexora-ai/rag-core/internal/gate"
	"github.com/lexora-ai/rag-core/internal/storage"
)

// RuleVersion identifies the check set. Bump whenever a check's semantics
// change so stored verdicts stay comparable.
const RuleVersion = "eval-v1"

// Check names.
const (
	CheckRequireCitations = "require_citations"
	CheckCitationCoverage = "citation_coverage"
	CheckMinAnswerLength  = "min_answer_length"
	CheckNoEmptyAnswer    = "no_empty_answer"
)

// Input is everything the checks may look at. The evaluator never performs
// I/O; callers assemble the input from persisted records.
type Input struct {
	Answer     string
	Citations  []storage.Citation
	HitNodeIDs []uuid.UUID
}

// coverage computes the share of citations that land on final hits:
// distinct cited-and-retrieved nodes over max(1, len(citations)). Duplicate
// citations of one node count once in the numerator but keep their weight in
// the denominator, so the result stays within [0,1].
func coverage(citations []storage.Citation, hits []uuid.UUID) float64 {
	hitSet := make(map[uuid.UUID]bool, len(hits))
	for _, id := range hits {
		hitSet[id] = true
	}

	grounded := make(map[uuid.UUID]bool)
	for _, c := range citations {
		if hitSet[c.NodeID] {
			grounded[c.NodeID] = true
		}
	}

	denom := len(citations)
	if denom < 1 {
		denom = 1
	}
	return float64(len(grounded)) / float64(denom)
}

// runChecks executes all checks against the input. Scores carries the
// numeric observations behind the verdict.
func runChecks(in Input, cfg config.EvaluatorConfig) ([]gate.Check, map[string]float64) {
	checks := make([]gate.Check, 0, 4)
	scores := make(map[string]float64)

	answer := strings.TrimSpace(in.Answer)

	if answer == "" {
		checks = append(checks, gate.Check{
			Name: CheckNoEmptyAnswer, Status: gate.CheckFail, Detail: "answer is empty",
		})
	} else {
		checks = append(checks, gate.Check{Name: CheckNoEmptyAnswer, Status: gate.CheckPass})
	}

	scores["answer_chars"] = float64(len(answer))
	if cfg.MinAnswerChars <= 0 {
		checks = append(checks, gate.Check{Name: CheckMinAnswerLength, Status: gate.CheckSkipped})
	} else if len(answer) < cfg.MinAnswerChars {
		checks = append(checks, gate.Check{
			Name:   CheckMinAnswerLength,
			Status: gate.CheckFail,
			Detail: fmt.Sprintf("answer has %d chars, minimum is %d", len(answer), cfg.MinAnswerChars),
		})
	} else {
		checks = append(checks, gate.Check{Name: CheckMinAnswerLength, Status: gate.CheckPass})
	}

	if !cfg.RequireCitations {
		checks = append(checks, gate.Check{Name: CheckRequireCitations, Status: gate.CheckSkipped})
	} else if len(in.Citations) == 0 {
		checks = append(checks, gate.Check{
			Name: CheckRequireCitations, Status: gate.CheckFail, Detail: "no citations present",
		})
	} else {
		checks = append(checks, gate.Check{Name: CheckRequireCitations, Status: gate.CheckPass})
	}

	if len(in.HitNodeIDs) == 0 {
		checks = append(checks, gate.Check{Name: CheckCitationCoverage, Status: gate.CheckSkipped})
	} else {
		cov := coverage(in.Citations, in.HitNodeIDs)
		scores["citation_coverage"] = cov
		switch {
		case cov < cfg.CoverageFailThreshold:
			checks = append(checks, gate.Check{
				Name:   CheckCitationCoverage,
				Status: gate.CheckFail,
				Detail: fmt.Sprintf("coverage %.2f below fail threshold %.2f", cov, cfg.CoverageFailThreshold),
			})
		case cov < cfg.CoverageWarnThreshold:
			checks = append(checks, gate.Check{
				Name:   CheckCitationCoverage,
				Status: gate.CheckWarn,
				Detail: fmt.Sprintf("coverage %.2f below warn threshold %.2f", cov, cfg.CoverageWarnThreshold),
			})
		default:
			checks = append(checks, gate.Check{Name: CheckCitationCoverage, Status: gate.CheckPass})
		}
	}

	return checks, scores
}
