package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by EnvSource.
const EnvPrefix = "SCANPILOT_"

// ConfigSource represents a configuration source that can load values into koanf.
// Sources are loaded in priority order (lowest first), with higher priority sources
// overriding lower priority values.
//
// Built-in sources and their priorities:
//   - DefaultSource (10): Hardcoded default values
//   - FileSource (20): Config file (e.g., ~/.config/scanpilot/config.yaml)
//   - EnvSource (30): Environment variables (SCANPILOT_*)
//   - FlagSource (40): Command-line flags
type ConfigSource interface {
	// Name returns a human-readable name for this source.
	Name() string

	// Priority returns the load priority. Higher values override lower ones.
	Priority() int

	// Load loads configuration values into the provided koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultSource provides hardcoded default configuration values.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads configuration from a YAML file.
type FileSource struct {
	Path string // silently skipped if empty or missing
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// EnvSource loads configuration from environment variables. The first
// underscore after the prefix separates the section from the key:
//
//	SCANPILOT_SCANNER_API_KEY   -> scanner.api_key
//	SCANPILOT_SCAN_POLL_INTERVAL -> scan.poll_interval
//	SCANPILOT_REPORTS_FORMATS="traditional-html=a.html markdown=a.md"
//
// Variables without a section, such as SCANPILOT_WORKSPACE, are ignored.
type EnvSource struct {
	Prefix string // default: SCANPILOT_
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	var parseErr error
	provider := env.ProviderWithValue(prefix, ".", func(key, value string) (string, interface{}) {
		name := strings.Replace(strings.ToLower(strings.TrimPrefix(key, prefix)), "_", ".", 1)
		if !strings.Contains(name, ".") {
			// SCANPILOT_WORKSPACE and friends are not config keys.
			return "", nil
		}
		if name == "reports.formats" {
			formats, err := ParseReportFormats(value)
			if err != nil {
				parseErr = fmt.Errorf("%s: %w", key, err)
				return "", nil
			}
			return name, formatsAsMaps(formats)
		}
		return name, value
	})

	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return parseErr
}

// FlagKeys maps command-line flag names to configuration keys. Flags that
// are not listed are not configuration and are ignored by FlagSource.
var FlagKeys = map[string]string{
	"host":              "scanner.host",
	"port":              "scanner.port",
	"scheme":            "scanner.scheme",
	"api-key":           "scanner.api_key",
	"request-timeout":   "scanner.request_timeout",
	"rate-limit":        "scanner.rate_limit",
	"min-version":       "scanner.min_version",
	"policy":            "scan.policy",
	"poll-interval":     "scan.poll_interval",
	"timeout":           "scan.timeout",
	"max-polls":         "scan.max_polls",
	"backoff":           "scan.backoff_multiplier",
	"max-poll-interval": "scan.max_poll_interval",
	"poll-retries":      "scan.poll_retries",
	"report-dir":        "reports.dir",
	"workspace-dir":     "workspace.dir",
	"log-file":          "log.file",
	"log-format":        "log.format",
	"addr":              "server.addr",
	"listen-port":       "server.port",
	"concurrency":       "server.concurrency",
	"queue-size":        "server.queue_size",
}

// FlagSource loads configuration from command-line flags.
type FlagSource struct {
	Flags *pflag.FlagSet
	Debug bool // If true, set log.level to "debug"
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags != nil {
		provider := posflag.ProviderWithFlag(s.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(s.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("error loading command-line flags: %w", err)
		}
	}

	if s.Debug {
		_ = k.Set("log.level", "debug")
	}
	return nil
}

// DefaultSources returns the standard configuration sources.
// Order: defaults -> file -> env -> flags
func DefaultSources(configPath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	return []ConfigSource{
		&DefaultSource{},
		&FileSource{Path: configPath},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags, Debug: debug},
	}
}

func formatsAsMaps(formats []ReportFormat) []interface{} {
	out := make([]interface{}, 0, len(formats))
	for _, f := range formats {
		out = append(out, map[string]interface{}{"name": f.Name, "template": f.Template, "file": f.File})
	}
	return out
}
