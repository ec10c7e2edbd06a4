package security

// Severity classifies how dangerous a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// rank orders severities for threshold comparisons, highest first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// Category names the scan pass that produced an issue.
type Category string

const (
	CategoryDependency    Category = "dependency"
	CategoryCode          Category = "code"
	CategoryConfiguration Category = "configuration"
)

// Issue is one finding from a scan pass.
type Issue struct {
	Type        string   `json:"type"`
	Category    Category `json:"category"`
	File        string   `json:"file"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Result aggregates all passes over one project directory. It is a
// write-once value; re-scanning an unchanged directory yields an
// identical result.
type Result struct {
	Counts   map[Category]map[Severity]int `json:"counts"`
	Issues   []Issue                       `json:"issues"`
	Warnings []string                      `json:"warnings,omitempty"`
}

// TotalBySeverity sums issue counts across categories.
func (r *Result) TotalBySeverity(severity Severity) int {
	total := 0
	for _, bySeverity := range r.Counts {
		total += bySeverity[severity]
	}
	return total
}

// IssuesAtLeast returns the issues whose severity is min or higher,
// in scan order.
func (r *Result) IssuesAtLeast(min Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity.AtLeast(min) {
			out = append(out, issue)
		}
	}
	return out
}

func newResult() *Result {
	counts := make(map[Category]map[Severity]int, 3)
	for _, category := range []Category{CategoryDependency, CategoryCode, CategoryConfiguration} {
		counts[category] = map[Severity]int{
			SeverityCritical: 0,
			SeverityHigh:     0,
			SeverityMedium:   0,
			SeverityLow:      0,
		}
	}
	return &Result{Counts: counts}
}

func (r *Result) record(issue Issue) {
	r.Counts[issue.Category][issue.Severity]++
	r.Issues = append(r.Issues, issue)
}
