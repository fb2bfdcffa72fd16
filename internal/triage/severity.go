// Package triage evaluates captured responses against the red-flag rule
// catalog and reduces matches to a single severity.
package triage

// Severity is the clinical red-flag severity of a matched rule
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank is the total order used for max-wins reduction. Integer
// ranks keep the reduction branch-free.
var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityModerate: 2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the severity's position in the total order
func (s Severity) Rank() int {
	return severityRank[s]
}

// Max returns the higher-ranked of two severities
func Max(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
