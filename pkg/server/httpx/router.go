package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/vulntor/scanpilot/pkg/server/api"
	v1 "github.com/vulntor/scanpilot/pkg/server/api/v1"
)

// NewRouter creates and configures the main HTTP router.
//
// Health endpoints are public. /api/v1 routes require the bearer token when
// one is configured and are bounded by the handler timeout.
func NewRouter(deps *api.Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(Recovery)

	r.Get("/healthz", HealthzHandler)
	r.Get("/readyz", v1.ReadyzHandler(deps.Ready))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth(deps.Config.Token))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if deps.Config.HandlerTimeout > 0 {
			r.Use(middleware.Timeout(deps.Config.HandlerTimeout))
		}

		r.Post("/runs", v1.CreateRunHandler(deps))
		r.Get("/runs", v1.ListRunsHandler(deps))
		r.Get("/runs/{id}", v1.GetRunHandler(deps))
		r.Get("/jobs", v1.JobsStatusHandler(deps))
	})

	return r
}

// HealthzHandler responds with 200 OK if the server process is alive.
// It does not check dependencies; use /readyz for that.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
