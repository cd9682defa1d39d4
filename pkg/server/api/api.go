package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/server/jobs"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// Deps holds dependencies for API handlers.
// This pattern enables dependency injection and easier testing.
type Deps struct {
	// Runs is the run store backing the read endpoints.
	Runs storage.RunStore

	// Launcher starts runs for POST /api/v1/runs.
	Launcher Launcher

	// Jobs reports worker pool statistics; optional.
	Jobs jobs.Manager

	// Ready flag for readiness check
	Ready *atomic.Bool

	// Config holds API-level settings such as the handler timeout.
	Config Config
}

// Launcher queues a run and returns its pending record.
type Launcher interface {
	Launch(ctx context.Context, req RunRequest) (*storage.RunRecord, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, req RunRequest) (*storage.RunRecord, error)

func (f LauncherFunc) Launch(ctx context.Context, req RunRequest) (*storage.RunRecord, error) {
	return f(ctx, req)
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RunRequest is the body of POST /api/v1/runs.
//
// Example:
//
//	{
//	  "target": "https://example.com",
//	  "policy": "Default Policy",
//	  "formats": [{"name": "markdown", "file": "report.md"}]
//	}
type RunRequest struct {
	Target  string          `json:"target" validate:"required,url"`
	Policy  string          `json:"policy,omitempty" validate:"omitempty,max=128"`
	Formats []FormatRequest `json:"formats,omitempty" validate:"omitempty,max=8,dive"`
}

// FormatRequest selects one report for a run. File is relative to the
// server's report directory.
type FormatRequest struct {
	Name     string `json:"name" validate:"required"`
	Template string `json:"template,omitempty"`
	File     string `json:"file" validate:"required"`
}

// Bind implements render.Binder.
func (req *RunRequest) Bind(_ *http.Request) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			return &ValidationError{Field: field, Reason: "failed " + fe.Tag()}
		}
		return err
	}
	return nil
}

// ValidationError is a lightweight error used for 400 responses.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation failed"
	}
	if e.Reason == "" {
		return e.Field + ": invalid"
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == orchestrator.ErrInvalidSpec }

// RunList is the body of GET /api/v1/runs.
type RunList struct {
	Runs       []storage.RunRecord `json:"runs"`
	NextCursor string              `json:"next_cursor,omitempty"`
	Total      int                 `json:"total"`
}
