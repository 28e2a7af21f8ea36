package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultSettingsValid(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	if s.Channel.Type != "dry-run" {
		t.Errorf("channel type = %q", s.Channel.Type)
	}
	if s.Deploy.Parallelism != 1 {
		t.Errorf("parallelism = %d", s.Deploy.Parallelism)
	}
}

func TestLoadSettingsYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "iamdeploy.yaml", `
channel:
  type: ssh
  remote_path: /opt/iamdeploy/agent.py
  call_timeout: 45s
  ssh:
    host: oam.example.com
    user: oracle
    auth_method: password
    password: secret
deploy:
  parallelism: 4
  continue_on_error: true
policy:
  mode: advisory
logging:
  level: debug
  format: json
`)

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Channel.CallTimeout != 45*time.Second {
		t.Errorf("call timeout = %v", s.Channel.CallTimeout)
	}
	if s.Channel.StartupTimeout != 30*time.Second {
		t.Errorf("unset startup timeout should keep default, got %v", s.Channel.StartupTimeout)
	}
	if s.Channel.SSH.Port != 22 {
		t.Errorf("ssh port = %d", s.Channel.SSH.Port)
	}
	if s.Deploy.Parallelism != 4 || !s.Deploy.ContinueOnError {
		t.Errorf("deploy = %+v", s.Deploy)
	}
	if s.Policy.Mode != "advisory" || !s.Policy.Enabled {
		t.Errorf("policy = %+v", s.Policy)
	}

	tc := s.TelemetryConfig("1.2.3", false)
	if tc.ServiceVersion != "1.2.3" || tc.Logging.Level != "debug" || tc.Logging.Format != "json" {
		t.Errorf("telemetry config = %+v", tc.Logging)
	}
}

func TestTelemetryConfigProduction(t *testing.T) {
	s := DefaultSettings()

	dev := s.TelemetryConfig("1.0.0", false)
	if dev.Logging.Format != "console" || dev.Logging.EnableSampling || dev.Events.EnableAsync {
		t.Errorf("default profile = %+v %+v", dev.Logging, dev.Events)
	}

	prod := s.TelemetryConfig("1.0.0", true)
	if prod.Environment != "production" {
		t.Errorf("environment = %q", prod.Environment)
	}
	if prod.Logging.Format != "json" || !prod.Logging.EnableSampling || prod.Logging.TimeFormat != "unix" {
		t.Errorf("production logging = %+v", prod.Logging)
	}
	if !prod.Events.EnableAsync {
		t.Error("production profile should publish events asynchronously")
	}
	if prod.Logging.Level != s.Logging.Level {
		t.Errorf("level = %q, want the configured %q", prod.Logging.Level, s.Logging.Level)
	}
	if prod.Tracing.Enabled {
		t.Error("tracing should follow the settings")
	}
	if err := prod.Validate(); err != nil {
		t.Errorf("production config invalid: %v", err)
	}
}

func TestLoadSettingsTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "iamdeploy.toml", `
root_address = "com.oracle.iam:Name=IAMConfiguration,Type=DeployedComponent"

[channel]
type = "exec"
remote_path = "/usr/local/bin/iam-agent"
args = ["--verbose"]

[store]
path = "/var/lib/iamdeploy/history.db"
`)

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Channel.Type != "exec" || len(s.Channel.Args) != 1 {
		t.Errorf("channel = %+v", s.Channel)
	}
	if s.Store.Path != "/var/lib/iamdeploy/history.db" {
		t.Errorf("store path = %q", s.Store.Path)
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "unsupported extension",
			file:    "iamdeploy.ini",
			content: "x=1",
			wantErr: "unsupported settings format",
		},
		{
			name:    "bad channel type",
			file:    "s.yaml",
			content: "channel:\n  type: telnet\n",
			wantErr: "Type",
		},
		{
			name:    "exec without remote path",
			file:    "s.yaml",
			content: "channel:\n  type: exec\n",
			wantErr: "RemotePath",
		},
		{
			name:    "ssh without host",
			file:    "s.yaml",
			content: "channel:\n  type: ssh\n  remote_path: /opt/agent\n",
			wantErr: "requires host and user",
		},
		{
			name:    "parallelism out of range",
			file:    "s.yaml",
			content: "deploy:\n  parallelism: 0\n",
			wantErr: "Parallelism",
		},
		{
			name:    "malformed root address",
			file:    "s.yaml",
			content: "root_address: \"no-domain\"\n",
			wantErr: "root_address",
		},
		{
			name:    "malformed yaml",
			file:    "s.yaml",
			content: "channel: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)
			_, err := LoadSettings(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
