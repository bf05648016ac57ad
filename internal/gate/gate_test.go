package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateAllPass(t *testing.T) {
	report := Aggregate("ingest", []Check{
		{Name: "has_nodes", Status: CheckPass},
		{Name: "vector_count_matches", Status: CheckPass},
	})

	assert.Equal(t, StatusPass, report.Status)
	assert.True(t, report.Passed())
	assert.Empty(t, report.Reasons)
}

func TestAggregateFailDominates(t *testing.T) {
	report := Aggregate("evaluation", []Check{
		{Name: "no_empty_answer", Status: CheckPass},
		{Name: "citation_coverage", Status: CheckWarn, Detail: "coverage 0.40 below warn threshold"},
		{Name: "require_citations", Status: CheckFail, Detail: "no citations present"},
	})

	assert.Equal(t, StatusFail, report.Status)
	assert.False(t, report.Passed())
	assert.Equal(t, []string{"coverage 0.40 below warn threshold", "no citations present"}, report.Reasons)
}

func TestAggregateWarnYieldsPartial(t *testing.T) {
	report := Aggregate("evaluation", []Check{
		{Name: "no_empty_answer", Status: CheckPass},
		{Name: "citation_coverage", Status: CheckWarn},
	})

	assert.Equal(t, StatusPartial, report.Status)
	assert.True(t, report.Passed())
	assert.Equal(t, []string{"citation_coverage"}, report.Reasons)
}

func TestAggregateAllSkipped(t *testing.T) {
	report := Aggregate("evaluation", []Check{
		{Name: "require_citations", Status: CheckSkipped},
		{Name: "min_answer_length", Status: CheckSkipped},
	})

	assert.Equal(t, StatusSkipped, report.Status)
	assert.Empty(t, report.Reasons)
}

func TestAggregateNoChecks(t *testing.T) {
	report := Aggregate("retrieval", nil)
	assert.Equal(t, StatusSkipped, report.Status)
}

func TestFailing(t *testing.T) {
	report := Failing("retrieval", "recall", "both recall paths returned errors")

	assert.Equal(t, StatusFail, report.Status)
	assert.Equal(t, []string{"both recall paths returned errors"}, report.Reasons)
	assert.Len(t, report.Checks, 1)
}
