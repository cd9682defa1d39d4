package scanrun

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// recorder persists live run state as orchestrator events arrive.
type recorder struct {
	ctx    context.Context
	store  storage.RunStore
	id     string
	logger zerolog.Logger
}

func (r *recorder) OnEvent(ev orchestrator.ProgressEvent) {
	if r.store == nil {
		return
	}

	var fn storage.UpdateFunc
	switch {
	case ev.Phase == orchestrator.PhaseConnect && ev.Status == orchestrator.StatusCompleted:
		fn = func(rec *storage.RunRecord) error {
			rec.Status = storage.RunRunning
			rec.ServerVersion = ev.Message
			return nil
		}
	case ev.Phase == orchestrator.PhaseSubmit && ev.Status == orchestrator.StatusCompleted:
		fn = func(rec *storage.RunRecord) error {
			rec.JobID = string(ev.JobID)
			return nil
		}
	case ev.Phase == orchestrator.PhasePoll && ev.Status == orchestrator.StatusRunning:
		fn = func(rec *storage.RunRecord) error {
			rec.Progress = ev.Progress
			rec.Polls = ev.Poll
			return nil
		}
	default:
		return
	}

	if _, err := r.store.Update(r.ctx, r.id, fn); err != nil {
		r.logger.Warn().Err(err).Str("phase", string(ev.Phase)).Msg("Failed to record progress")
	}
}
