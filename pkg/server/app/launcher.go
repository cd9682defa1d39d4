package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vulntor/scanpilot/pkg/config"
	"github.com/vulntor/scanpilot/pkg/scanrun"
	"github.com/vulntor/scanpilot/pkg/server/api"
	"github.com/vulntor/scanpilot/pkg/server/jobs"
	"github.com/vulntor/scanpilot/pkg/storage"
)

// runLauncher turns API requests into queued runs using the server's
// scanner, polling and report settings.
type runLauncher struct {
	runs *scanrun.Service
	jobs jobs.Manager
	cfg  config.Config
}

func (l *runLauncher) Launch(ctx context.Context, req api.RunRequest) (*storage.RunRecord, error) {
	p, err := l.params(req)
	if err != nil {
		return nil, err
	}
	return l.runs.Enqueue(ctx, l.jobs, p)
}

func (l *runLauncher) params(req api.RunRequest) (scanrun.Params, error) {
	reports := l.cfg.Reports
	if len(req.Formats) > 0 {
		reports.Formats = make([]config.ReportFormat, 0, len(req.Formats))
		for i, f := range req.Formats {
			if !filepath.IsLocal(f.File) {
				return scanrun.Params{}, &api.ValidationError{
					Field:  fmt.Sprintf("formats[%d].file", i),
					Reason: "must be a relative path inside the report directory",
				}
			}
			reports.Formats = append(reports.Formats, config.ReportFormat{Name: f.Name, Template: f.Template, File: f.File})
		}
	}
	formats, err := reports.ReportFormats()
	if err != nil {
		return scanrun.Params{}, err
	}

	policy := req.Policy
	if policy == "" {
		policy = l.cfg.Scan.Policy
	}

	return scanrun.Params{
		Endpoint:    l.cfg.Scanner.Endpoint(),
		Target:      req.Target,
		Policy:      policy,
		Reports:     formats,
		Options:     l.cfg.Options(),
		NestReports: true,
	}, nil
}
