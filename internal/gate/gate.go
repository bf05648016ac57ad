// Package gate aggregates named check outcomes into stage reports. It holds
// no state and performs no I/O; callers run the checks and feed results in.
package gate

// Status is the aggregated outcome of a stage report.
type Status string

const (
	StatusPass    Status = "pass"
	StatusPartial Status = "partial"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// CheckStatus is the outcome of one individual check.
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckWarn    CheckStatus = "warn"
	CheckFail    CheckStatus = "fail"
	CheckSkipped CheckStatus = "skipped"
)

// Check is one named verification with its outcome.
type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Report is the aggregated result of a pipeline stage.
type Report struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Reasons []string `json:"reasons,omitempty"`
	Checks  []Check  `json:"checks"`
}

// Passed reports whether the stage may gate downstream work open.
func (r Report) Passed() bool {
	return r.Status == StatusPass || r.Status == StatusPartial
}

// Aggregate folds check outcomes into a stage report. Any fail makes the
// stage fail; a warn without fails makes it partial; all-skipped stays
// skipped; otherwise the stage passes. Reasons carry the detail (or name)
// of every non-passing check, in input order.
func Aggregate(name string, checks []Check) Report {
	report := Report{
		Name:   name,
		Status: StatusSkipped,
		Checks: checks,
	}

	var anyFail, anyWarn, anyDecided bool
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			anyFail = true
			anyDecided = true
		case CheckWarn:
			anyWarn = true
			anyDecided = true
		case CheckPass:
			anyDecided = true
		}

		if c.Status == CheckFail || c.Status == CheckWarn {
			reason := c.Detail
			if reason == "" {
				reason = c.Name
			}
			report.Reasons = append(report.Reasons, reason)
		}
	}

	switch {
	case anyFail:
		report.Status = StatusFail
	case anyWarn:
		report.Status = StatusPartial
	case anyDecided:
		report.Status = StatusPass
	}
	return report
}

// Failing returns a single-check failing report, used when a stage cannot
// run at all (for example after an upstream error).
func Failing(name, checkName, detail string) Report {
	return Aggregate(name, []Check{{Name: checkName, Status: CheckFail, Detail: detail}})
}
