package v1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/scanpilot/pkg/server/api"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// CreateRunHandler handles POST /api/v1/runs.
//
// The run is queued on the worker pool and answered with 202 and the
// pending record; its progress is visible through GetRunHandler.
//
// Request body:
//
//	{"target": "https://example.com", "policy": "Default Policy"}
func CreateRunHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Launcher == nil {
			api.WriteJSONError(w, r, http.StatusServiceUnavailable, "run submission is not available")
			return
		}

		var req api.RunRequest
		if err := render.Bind(r, &req); err != nil {
			var verr *api.ValidationError
			if errors.As(err, &verr) {
				api.WriteError(w, r, err)
				return
			}
			api.WriteJSONError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		rec, err := deps.Launcher.Launch(r.Context(), req)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		log.Info().
			Str("component", "api").
			Str("run_id", rec.ID).
			Str("target", rec.Target).
			Msg("Run queued")

		w.Header().Set("Location", "/api/v1/runs/"+rec.ID)
		api.WriteJSON(w, r, http.StatusAccepted, rec)
	}
}

// ListRunsHandler handles GET /api/v1/runs
//
// Query parameters: status, target, limit (1-500, default 50), cursor.
// Runs are returned newest first; pass next_cursor back to get the next page.
func ListRunsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runs == nil {
			api.WriteJSONError(w, r, http.StatusServiceUnavailable, "run storage is not available")
			return
		}

		filter, err := ParseListRunsQuery(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		res, err := deps.Runs.List(r.Context(), filter)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}

		out := api.RunList{Runs: res.Runs, NextCursor: res.NextCursor, Total: res.Total}
		if out.Runs == nil {
			out.Runs = []storage.RunRecord{}
		}
		api.WriteJSON(w, r, http.StatusOK, out)
	}
}

// GetRunHandler handles GET /api/v1/runs/{id}
func GetRunHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runs == nil {
			api.WriteJSONError(w, r, http.StatusServiceUnavailable, "run storage is not available")
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			api.WriteError(w, r, &api.ValidationError{Field: "id", Reason: "required"})
			return
		}

		rec, err := deps.Runs.Get(r.Context(), id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, r, http.StatusOK, rec)
	}
}

// JobsStatusHandler handles GET /api/v1/jobs and reports worker pool counters.
func JobsStatusHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil {
			api.WriteJSONError(w, r, http.StatusServiceUnavailable, "job manager is not running")
			return
		}
		api.WriteJSON(w, r, http.StatusOK, deps.Jobs.Status())
	}
}
