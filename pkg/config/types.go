package config

import "time"

// Config is the root configuration structure for scanpilot.
type Config struct {
	Log       LogConfig       `description:"Logging configuration" koanf:"log"`
	Scanner   ScannerConfig   `description:"Scanning service connection" koanf:"scanner"`
	Scan      ScanConfig      `description:"Scan submission and polling" koanf:"scan"`
	Reports   ReportsConfig   `description:"Report export" koanf:"reports"`
	Workspace WorkspaceConfig `description:"Local workspace" koanf:"workspace"`
	Server    ServerConfig    `description:"Control plane server" koanf:"server"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level      string `description:"Log level" koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format     string `description:"Log format: json | text" koanf:"format" validate:"omitempty,oneof=json text"`
	File       string `description:"Log file path (rotated)" koanf:"file"`
	MaxSizeMB  int    `description:"Rotate the log file after this many megabytes" koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `description:"Rotated files to keep" koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `description:"Days to keep rotated files" koanf:"max_age_days" validate:"gte=0"`
}

// ScannerConfig describes how to reach the scanning service.
type ScannerConfig struct {
	Host           string        `description:"Scanner API host" koanf:"host" validate:"required"`
	Port           int           `description:"Scanner API port" koanf:"port" validate:"min=1,max=65535"`
	Scheme         string        `description:"http | https" koanf:"scheme" validate:"omitempty,oneof=http https"`
	APIKey         string        `description:"Scanner API key" koanf:"api_key"`
	RequestTimeout time.Duration `description:"Per-request timeout" koanf:"request_timeout"`
	RateLimit      float64       `description:"Maximum API requests per second (0 = unlimited)" koanf:"rate_limit" validate:"gte=0"`
	Burst          int           `description:"API request burst" koanf:"burst" validate:"gte=0"`
	MinVersion     string        `description:"Reject scanners older than this version" koanf:"min_version"`
}

// ScanConfig holds scan submission and polling settings.
type ScanConfig struct {
	Target            string        `description:"Default scan target URL" koanf:"target" validate:"omitempty,url"`
	Policy            string        `description:"Scan policy name" koanf:"policy"`
	PollInterval      time.Duration `description:"Wait between status polls" koanf:"poll_interval"`
	Timeout           time.Duration `description:"Maximum wait for completion (0 = none)" koanf:"timeout"`
	MaxPolls          int           `description:"Maximum status polls (0 = unbounded)" koanf:"max_polls" validate:"gte=0"`
	BackoffMultiplier float64       `description:"Poll interval growth factor (1 = fixed)" koanf:"backoff_multiplier" validate:"omitempty,gte=1"`
	MaxPollInterval   time.Duration `description:"Cap for a growing poll interval" koanf:"max_poll_interval"`
	PollRetries       int           `description:"Attempts per status poll" koanf:"poll_retries" validate:"gte=0"`
}

// ReportsConfig selects the reports exported after completion.
type ReportsConfig struct {
	Dir     string         `description:"Report directory on the scanner host" koanf:"dir"`
	Formats []ReportFormat `description:"Report formats to export" koanf:"formats" validate:"dive"`
}

// ReportFormat is one report to export. File is relative to Dir unless absolute.
type ReportFormat struct {
	Name     string `koanf:"name" yaml:"name" validate:"required"`
	Template string `koanf:"template" yaml:"template,omitempty"`
	File     string `koanf:"file" yaml:"file" validate:"required"`
}

// WorkspaceConfig controls the local workspace.
type WorkspaceConfig struct {
	Dir string `description:"Workspace root directory" koanf:"dir"`
}

// ServerConfig holds configuration for the control plane server.
type ServerConfig struct {
	Addr           string        `description:"Server listen address" koanf:"addr" validate:"required"`
	Port           int           `description:"Server listen port" koanf:"port" validate:"min=1,max=65535"`
	Concurrency    int           `description:"Number of concurrent runs" koanf:"concurrency" validate:"min=1"`
	QueueSize      int           `description:"Queued runs before rejecting" koanf:"queue_size" validate:"min=1"`
	ReadTimeout    time.Duration `description:"HTTP read timeout" koanf:"read_timeout"`
	WriteTimeout   time.Duration `description:"HTTP write timeout" koanf:"write_timeout"`
	HandlerTimeout time.Duration `description:"API handler timeout, 0 disables it" koanf:"handler_timeout"`
	Token          string        `description:"Bearer token required by /api routes when set" koanf:"token"`
}
