package v1

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vulntor/scanpilot/pkg/server/api"
	"github.com/vulntor/scanpilot/pkg/storage"
)

var validate = validator.New()

// ParseListRunsQuery parses and validates the query of GET /api/v1/runs.
// Limit defaults to storage.DefaultListLimit when omitted.
func ParseListRunsQuery(r *http.Request) (storage.RunFilter, error) {
	q := r.URL.Query()
	res := storage.RunFilter{Limit: storage.DefaultListLimit}

	if v := strings.TrimSpace(q.Get("status")); v != "" {
		if !storage.RunStatus(v).IsValid() {
			return storage.RunFilter{}, &api.ValidationError{
				Field:  "status",
				Reason: "must be one of: pending,running,completed,failed,timeout,cancelled",
			}
		}
		res.Status = storage.RunStatus(v)
	}

	if v := strings.TrimSpace(q.Get("target")); v != "" {
		if err := validate.Var(v, "url"); err != nil {
			return storage.RunFilter{}, &api.ValidationError{Field: "target", Reason: "must be a URL"}
		}
		res.Target = v
	}

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return storage.RunFilter{}, &api.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		if err := validate.Var(n, fmt.Sprintf("min=1,max=%d", storage.MaxListLimit)); err != nil {
			return storage.RunFilter{}, &api.ValidationError{
				Field:  "limit",
				Reason: fmt.Sprintf("must be between 1 and %d", storage.MaxListLimit),
			}
		}
		res.Limit = n
	}

	// Opaque to clients, but reject garbage before it reaches storage.
	if v := strings.TrimSpace(q.Get("cursor")); v != "" {
		if _, err := storage.DecodeCursor(v); err != nil {
			return storage.RunFilter{}, &api.ValidationError{Field: "cursor", Reason: "invalid"}
		}
		res.Cursor = v
	}

	return res, nil
}
