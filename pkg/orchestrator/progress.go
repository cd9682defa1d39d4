package orchestrator

import "time"

// Phase identifies the stage of a run an event belongs to.
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseSubmit  Phase = "submit"
	PhasePoll    Phase = "poll"
	PhaseExport  Phase = "export"
)

// Event statuses.
const (
	StatusStart     = "start"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// ProgressEvent is emitted as a run moves through its phases.
// Progress and Poll are set for poll events, Format for export events.
type ProgressEvent struct {
	Phase     Phase
	Status    string
	Target    string
	JobID     JobID
	Progress  int
	Poll      int
	Format    string
	Message   string
	Timestamp time.Time
}

// ProgressSink receives run events. Implementations must not block for long;
// they run on the polling goroutine.
type ProgressSink interface {
	OnEvent(ProgressEvent)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ProgressEvent)

func (f SinkFunc) OnEvent(ev ProgressEvent) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) OnEvent(ev ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(ev)
		}
	}
}
