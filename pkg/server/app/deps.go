package app

import (
	"github.com/rs/zerolog"

	"github.com/vulntor/scanpilot/pkg/scanrun"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// Deps holds dependencies for the server application.
type Deps struct {
	// Storage backend for run records. Closed on shutdown.
	Storage storage.Backend

	// Runs executes queued runs; it should record into Storage.
	Runs *scanrun.Service

	// Logger for structured logging (injected by caller)
	Logger zerolog.Logger
}
