package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/telemetry"
)

// DefaultSettings returns settings for a dry-run against the default root.
func DefaultSettings() *Settings {
	return &Settings{
		RootAddress: engine.DefaultRootAddress,
		Channel: ChannelSettings{
			Type:           "dry-run",
			StartupTimeout: 30 * time.Second,
			CallTimeout:    2 * time.Minute,
			SSH: SSHSettings{
				Port:                  22,
				AuthMethod:            "key",
				StrictHostKeyChecking: true,
				ConnectionTimeout:     30 * time.Second,
			},
		},
		Store: StoreSettings{
			Path: filepath.Join(".iamdeploy", "history.db"),
		},
		Policy: PolicySettings{
			Enabled: true,
			Mode:    "enforcing",
		},
		Deploy: DeploySettings{
			Parallelism: 1,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingSettings{
			Exporter: "none",
			Sampling: 1.0,
		},
		Server: ServerSettings{
			ListenAddress: ":8080",
		},
	}
}

// LoadSettings reads settings from path over the defaults. The format is
// chosen by extension: .yaml, .yml, .toml or .json.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		// JSON is a subset of YAML
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported settings format: %s", path)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return settings, nil
}

// Validate checks struct tags and cross-field rules.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return err
	}

	if _, err := engine.ParseHandle(s.RootAddress); err != nil {
		return fmt.Errorf("root_address: %w", err)
	}

	if s.Channel.Type == "ssh" {
		if s.Channel.SSH.Host == "" || s.Channel.SSH.User == "" {
			return fmt.Errorf("channel.ssh requires host and user")
		}
	}

	return nil
}

// TelemetryConfig maps the logging and tracing settings onto a telemetry
// configuration. The production profile keeps JSON logs with sampling and
// publishes events asynchronously, whatever logging.format says.
func (s *Settings) TelemetryConfig(version string, production bool) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if production {
		cfg = telemetry.ProductionConfig()
	} else {
		cfg.Logging.Format = s.Logging.Format
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Output = s.Logging.Output
	cfg.Tracing.Enabled = s.Tracing.Enabled
	if s.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = s.Tracing.Exporter
	}
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.Sampling
	return cfg
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
