package progress

import (
	"time"

	"mcpvet/pkg/logging"
)

// Kind classifies a progress event.
type Kind string

const (
	KindPhaseStart    Kind = "phase_start"
	KindPhaseProgress Kind = "phase_progress"
	KindPhaseComplete Kind = "phase_complete"
	KindError         Kind = "error"
	KindWarning       Kind = "warning"
)

// Event is one progress fact reported by the engine. The tracker owns
// weighting and persistence; the engine only reports what happened.
type Event struct {
	ProjectID string    `json:"project_id"`
	Phase     string    `json:"phase"`
	Kind      Kind      `json:"kind"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker consumes progress events. Implementations must be safe for
// concurrent use; the load-test phase publishes from worker goroutines.
type Tracker interface {
	Publish(event Event)
}

// LogTracker writes events to the logging subsystem. This is the default
// tracker for CLI runs.
type LogTracker struct{}

// NewLogTracker returns a tracker that logs every event.
func NewLogTracker() *LogTracker {
	return &LogTracker{}
}

func (t *LogTracker) Publish(event Event) {
	switch event.Kind {
	case KindError:
		logging.Warn("progress", "[%s/%s] error: %s", event.ProjectID, event.Phase, event.Message)
	case KindWarning:
		logging.Warn("progress", "[%s/%s] warning: %s", event.ProjectID, event.Phase, event.Message)
	default:
		logging.Debug("progress", "[%s/%s] %s (%.0f%%): %s", event.ProjectID, event.Phase, event.Kind, event.Percent, event.Message)
	}
}

// NopTracker discards all events. Used in tests and when progress reporting
// is disabled.
type NopTracker struct{}

func NewNopTracker() *NopTracker { return &NopTracker{} }

func (t *NopTracker) Publish(Event) {}
