package recovery

import "fmt"

// Category classifies where a failure happened.
type Category string

const (
	CategoryProcess       Category = "process"
	CategoryProtocol      Category = "protocol"
	CategoryFunctionality Category = "functionality"
	CategoryBenchmark     Category = "benchmark"
	CategoryIntegration   Category = "integration"
	CategoryLoad          Category = "load"
	CategorySecurity      Category = "security"
)

// Severity grades a failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is what the caller should do about a failure. The engine obeys the
// returned action; it never decides retry policy itself.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionSkip     Action = "skip"
	ActionRollback Action = "rollback"
	ActionAbort    Action = "abort"
)

// Failure is the tuple the engine reports on any phase failure.
type Failure struct {
	Category Category       `json:"category"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Phase    string         `json:"phase"`
	Details  map[string]any `json:"details,omitempty"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s/%s in %s: %s", f.Category, f.Severity, f.Phase, f.Message)
}

// Handler decides the recovery action for a failure.
type Handler interface {
	Handle(failure Failure) Action
}

type tableKey struct {
	category Category
	severity Severity
}

// Table is an immutable category×severity → action lookup. It is built once
// at startup and passed by reference into the engine.
type Table struct {
	actions       map[tableKey]Action
	defaultAction Action
}

// NewDefaultTable builds the standard recovery table: process-start failures
// at high severity get one retry, critical failures abort the remainder of
// the run, everything else is skipped (recorded, run continues).
func NewDefaultTable() *Table {
	return NewTable(map[Category]map[Severity]Action{
		CategoryProcess: {
			SeverityHigh:     ActionRetry,
			SeverityCritical: ActionAbort,
		},
		CategoryProtocol: {
			SeverityCritical: ActionAbort,
		},
		CategoryLoad: {
			SeverityCritical: ActionAbort,
		},
	}, ActionSkip)
}

// NewTable builds a table from a nested action map. The input maps are
// copied; later mutation of the argument does not affect the table.
func NewTable(entries map[Category]map[Severity]Action, defaultAction Action) *Table {
	actions := make(map[tableKey]Action)
	for category, bySeverity := range entries {
		for severity, action := range bySeverity {
			actions[tableKey{category, severity}] = action
		}
	}
	return &Table{actions: actions, defaultAction: defaultAction}
}

// ActionFor returns the configured action for a category and severity, or
// the table's default.
func (t *Table) ActionFor(category Category, severity Severity) Action {
	if action, ok := t.actions[tableKey{category, severity}]; ok {
		return action
	}
	return t.defaultAction
}

// Handle implements Handler.
func (t *Table) Handle(failure Failure) Action {
	return t.ActionFor(failure.Category, failure.Severity)
}
