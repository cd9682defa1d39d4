// Package config loads scanpilot configuration from layered sources.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cast"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/retry"
	"github.com/vulntor/scanpilot/pkg/zap"
)

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a Manager with an empty koanf instance.
func NewManager() *Manager {
	return &Manager{koanfInstance: koanf.New(".")}
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Scanner: ScannerConfig{
			Host:           "localhost",
			Port:           8090,
			Scheme:         "http",
			RequestTimeout: 30 * time.Second,
			RateLimit:      5,
			Burst:          2,
		},
		Scan: ScanConfig{
			Policy:          orchestrator.DefaultPolicy,
			PollInterval:    orchestrator.DefaultPollInterval,
			MaxPollInterval: time.Minute,
			PollRetries:     3,
		},
		Reports: ReportsConfig{
			Dir: ".",
			Formats: []ReportFormat{
				{Name: "traditional-html", File: "zap-report.html"},
				{Name: "markdown", File: "zap-report.md"},
			},
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1",
			Port:           8080,
			Concurrency:    2,
			QueueSize:      32,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			HandlerTimeout: 30 * time.Second,
		},
	}
}

// DefaultConfigAsMap flattens DefaultConfig for koanf's confmap provider so
// every key exists before files, env and flags are layered on top.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()

	return map[string]interface{}{
		"log.level":        def.Log.Level,
		"log.format":       def.Log.Format,
		"log.file":         def.Log.File,
		"log.max_size_mb":  def.Log.MaxSizeMB,
		"log.max_backups":  def.Log.MaxBackups,
		"log.max_age_days": def.Log.MaxAgeDays,

		"scanner.host":            def.Scanner.Host,
		"scanner.port":            def.Scanner.Port,
		"scanner.scheme":          def.Scanner.Scheme,
		"scanner.api_key":         def.Scanner.APIKey,
		"scanner.request_timeout": def.Scanner.RequestTimeout,
		"scanner.rate_limit":      def.Scanner.RateLimit,
		"scanner.burst":           def.Scanner.Burst,
		"scanner.min_version":     def.Scanner.MinVersion,

		"scan.target":             def.Scan.Target,
		"scan.policy":             def.Scan.Policy,
		"scan.poll_interval":      def.Scan.PollInterval,
		"scan.timeout":            def.Scan.Timeout,
		"scan.max_polls":          def.Scan.MaxPolls,
		"scan.backoff_multiplier": def.Scan.BackoffMultiplier,
		"scan.max_poll_interval":  def.Scan.MaxPollInterval,
		"scan.poll_retries":       def.Scan.PollRetries,

		"reports.dir":     def.Reports.Dir,
		"reports.formats": formatsAsMaps(def.Reports.Formats),

		"workspace.dir": def.Workspace.Dir,

		"server.addr":            def.Server.Addr,
		"server.port":            def.Server.Port,
		"server.concurrency":     def.Server.Concurrency,
		"server.queue_size":      def.Server.QueueSize,
		"server.read_timeout":    def.Server.ReadTimeout,
		"server.write_timeout":   def.Server.WriteTimeout,
		"server.handler_timeout": def.Server.HandlerTimeout,
		"server.token":           def.Server.Token,
	}
}

// Load applies sources in priority order, then unmarshals and validates the
// merged result. The previous configuration is kept if any step fails.
func (m *Manager) Load(sources ...ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]ConfigSource, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	k := koanf.New(".")
	for _, src := range sorted {
		if err := src.Load(k); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := k.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}

	m.koanfInstance = k
	m.currentConfig = newCfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.currentConfig
	cfg.Reports.Formats = append([]ReportFormat(nil), m.currentConfig.Reports.Formats...)
	return cfg
}

// Koanf exposes the merged key space (read-only use).
func (m *Manager) Koanf() *koanf.Koanf {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists every invalid field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == orchestrator.ErrInvalidSpec }

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	fields := map[string]string{}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			fields[fieldKey(fe.Namespace())] = fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value())
		}
	}

	if c.Scan.PollInterval <= 0 {
		fields["scan.poll_interval"] = "must be positive"
	}
	if c.Scan.Timeout < 0 {
		fields["scan.timeout"] = "must not be negative"
	}
	if c.Scan.MaxPollInterval < 0 {
		fields["scan.max_poll_interval"] = "must not be negative"
	}
	if c.Scanner.RequestTimeout < 0 {
		fields["scanner.request_timeout"] = "must not be negative"
	}
	if c.Server.HandlerTimeout < 0 {
		fields["server.handler_timeout"] = "must not be negative"
	}
	if _, err := c.Reports.ReportFormats(); err != nil {
		fields["reports.formats"] = err.Error()
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// fieldKey turns "Config.Scan.MaxPolls" into "Scan.MaxPolls".
func fieldKey(ns string) string {
	return strings.TrimPrefix(ns, "Config.")
}

// Endpoint returns the scanner endpoint.
func (s ScannerConfig) Endpoint() orchestrator.Endpoint {
	return orchestrator.Endpoint{Host: s.Host, Port: s.Port}
}

// ClientConfig returns the API client settings.
func (s ScannerConfig) ClientConfig() zap.Config {
	return zap.Config{
		Scheme:    s.Scheme,
		APIKey:    s.APIKey,
		Timeout:   s.RequestTimeout,
		RateLimit: s.RateLimit,
		Burst:     s.Burst,
	}
}

// Options returns the polling options for a run.
func (c Config) Options() orchestrator.Options {
	pollRetry := retry.None()
	if c.Scan.PollRetries > 1 {
		pollRetry = retry.DefaultConfig()
		pollRetry.MaxAttempts = c.Scan.PollRetries
	}
	return orchestrator.Options{
		PollInterval:      c.Scan.PollInterval,
		BackoffMultiplier: c.Scan.BackoffMultiplier,
		MaxPollInterval:   c.Scan.MaxPollInterval,
		Timeout:           c.Scan.Timeout,
		MaxPolls:          c.Scan.MaxPolls,
		PollRetry:         pollRetry,
		MinServerVersion:  c.Scanner.MinVersion,
	}
}

// ReportFormats resolves file names against Dir.
func (r ReportsConfig) ReportFormats() ([]orchestrator.ReportFormat, error) {
	out := make([]orchestrator.ReportFormat, 0, len(r.Formats))
	for _, f := range r.Formats {
		dest := f.File
		if !filepath.IsAbs(dest) && r.Dir != "" {
			dest = filepath.Join(r.Dir, dest)
		}
		out = append(out, orchestrator.ReportFormat{Name: f.Name, Template: f.Template, Destination: dest})
	}
	if err := orchestrator.ValidateReportFormats(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseReportFormats parses "name=file" or "name:template=file" entries.
// in may be a string (whitespace or comma separated) or a string slice.
func ParseReportFormats(in interface{}) ([]ReportFormat, error) {
	var items []string
	if s, ok := in.(string); ok {
		items = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
	} else {
		var err error
		items, err = cast.ToStringSliceE(in)
		if err != nil {
			return nil, fmt.Errorf("report formats: %w", err)
		}
	}

	out := make([]ReportFormat, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, file, ok := strings.Cut(item, "=")
		if !ok || name == "" || file == "" {
			return nil, fmt.Errorf("report format %q: want name=file", item)
		}
		f := ReportFormat{Name: name, File: file}
		if n, tmpl, ok := strings.Cut(name, ":"); ok {
			f.Name, f.Template = n, tmpl
		}
		out = append(out, f)
	}
	return out, nil
}
