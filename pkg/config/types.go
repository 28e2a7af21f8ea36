package config

import (
	"time"
)

// Settings is the tool configuration loaded from iamdeploy.yaml or iamdeploy.toml.
type Settings struct {
	// RootAddress is the object name of the management root.
	RootAddress string `json:"root_address" yaml:"root_address" toml:"root_address" validate:"required"`

	// Channel selects and configures the invocation channel.
	Channel ChannelSettings `json:"channel" yaml:"channel" toml:"channel"`

	// Store configures the dispatch history database.
	Store StoreSettings `json:"store" yaml:"store" toml:"store"`

	// Policy configures the dispatch policy gate.
	Policy PolicySettings `json:"policy" yaml:"policy" toml:"policy"`

	// Deploy configures apply runs.
	Deploy DeploySettings `json:"deploy" yaml:"deploy" toml:"deploy"`

	// Logging configures structured logging.
	Logging LoggingSettings `json:"logging" yaml:"logging" toml:"logging"`

	// Tracing configures span export.
	Tracing TracingSettings `json:"tracing" yaml:"tracing" toml:"tracing"`

	// Server configures the HTTP API.
	Server ServerSettings `json:"server" yaml:"server" toml:"server"`
}

// ChannelSettings configures how operations reach the management host.
type ChannelSettings struct {
	// Type is exec, ssh or dry-run.
	Type string `json:"type" yaml:"type" toml:"type" validate:"required,oneof=exec ssh dry-run"`

	// AgentPath is the local agent script uploaded before start. Optional.
	AgentPath string `json:"agent_path,omitempty" yaml:"agent_path,omitempty" toml:"agent_path"`

	// RemotePath is where the agent runs on the management host.
	RemotePath string `json:"remote_path" yaml:"remote_path" toml:"remote_path" validate:"required_unless=Type dry-run"`

	// Command launches the agent for the exec channel. Defaults to RemotePath.
	Command string `json:"command,omitempty" yaml:"command,omitempty" toml:"command"`

	// Args are extra arguments for Command.
	Args []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args"`

	// StartupTimeout bounds the wait for the agent's READY message.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout" toml:"startup_timeout" validate:"gte=0"`

	// CallTimeout bounds a single invocation.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" toml:"call_timeout" validate:"gte=0"`

	// SSH configures the ssh channel.
	SSH SSHSettings `json:"ssh" yaml:"ssh" toml:"ssh"`
}

// SSHSettings configures the SSH connection to the management host.
type SSHSettings struct {
	Host                  string        `json:"host" yaml:"host" toml:"host"`
	Port                  int           `json:"port" yaml:"port" toml:"port" validate:"gte=0,lte=65535"`
	User                  string        `json:"user" yaml:"user" toml:"user"`
	AuthMethod            string        `json:"auth_method" yaml:"auth_method" toml:"auth_method" validate:"omitempty,oneof=password key"`
	Password              string        `json:"password,omitempty" yaml:"password,omitempty" toml:"password"`
	PrivateKeyPath        string        `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty" toml:"private_key_path"`
	KnownHostsPath        string        `json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty" toml:"known_hosts_path"`
	StrictHostKeyChecking bool          `json:"strict_host_key_checking" yaml:"strict_host_key_checking" toml:"strict_host_key_checking"`
	Interpreter           string        `json:"interpreter,omitempty" yaml:"interpreter,omitempty" toml:"interpreter"`
	ConnectionTimeout     time.Duration `json:"connection_timeout" yaml:"connection_timeout" toml:"connection_timeout"`
	KeepAliveInterval     time.Duration `json:"keep_alive_interval" yaml:"keep_alive_interval" toml:"keep_alive_interval"`
}

// StoreSettings configures the SQLite history store.
type StoreSettings struct {
	// Path is the database file. Empty disables history.
	Path string `json:"path" yaml:"path" toml:"path"`
}

// PolicySettings configures policy enforcement.
type PolicySettings struct {
	// Enabled turns the policy gate on.
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// Paths lists .rego files or directories with user policies.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty" toml:"paths"`

	// Builtins lists the built-in policies to load. Empty loads all.
	Builtins []string `json:"builtins,omitempty" yaml:"builtins,omitempty" toml:"builtins"`

	// Mode is enforcing (deny blocks the dispatch) or advisory (deny is logged).
	Mode string `json:"mode" yaml:"mode" toml:"mode" validate:"omitempty,oneof=advisory enforcing"`

	// Watch reloads policies when files change.
	Watch bool `json:"watch" yaml:"watch" toml:"watch"`
}

// DeploySettings configures apply runs.
type DeploySettings struct {
	// Parallelism is the number of concurrent dispatches within a level.
	Parallelism int `json:"parallelism" yaml:"parallelism" toml:"parallelism" validate:"gte=1,lte=64"`

	// ContinueOnError keeps dispatching independent entities after a failure.
	ContinueOnError bool `json:"continue_on_error" yaml:"continue_on_error" toml:"continue_on_error"`
}

// LoggingSettings configures structured logging.
type LoggingSettings struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"oneof=console json"`
	Output string `json:"output" yaml:"output" toml:"output"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled  bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Exporter string  `json:"exporter" yaml:"exporter" toml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint"`
	Sampling float64 `json:"sampling" yaml:"sampling" toml:"sampling" validate:"gte=0,lte=1"`
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address" toml:"listen_address" validate:"required"`
}

// Definition declares one configuration entity and the verb to apply to it.
type Definition struct {
	// ID uniquely identifies the definition within a set. Defaults to category/name.
	ID string `json:"id,omitempty" yaml:"id,omitempty" validate:"omitempty,max=128"`

	// Category is the entity category id from the catalog.
	Category string `json:"category" yaml:"category" validate:"required"`

	// Name is the entity name passed in name slots. Defaults to the category id.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Verb is print, create, modify or delete. Defaults to create.
	Verb string `json:"verb,omitempty" yaml:"verb,omitempty" validate:"omitempty,oneof=print create modify delete PRINT CREATE MODIFY DELETE"`

	// Labels organize and select definitions.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Properties are raw property values keyed by property id.
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Script is Starlark whose exported globals become property values.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// DependsOn lists definition ids that must be applied first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" validate:"dive,required"`

	// Source is the file the definition was read from.
	Source string `json:"-" yaml:"-"`
}

// DefinitionSet is the result of loading definition files.
type DefinitionSet struct {
	// Definitions in load order.
	Definitions []Definition `json:"definitions"`

	// SourceFiles are the files that were read.
	SourceFiles []string `json:"source_files"`

	// LoadedAt is when loading finished.
	LoadedAt time.Time `json:"loaded_at"`

	// Errors lists validation errors with their location.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path locates the error inside the document (e.g., "definitions.partner-a.category").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = loc + ":" + itoa(e.Line)
	}
	if e.Path != "" {
		if loc != "" {
			loc += " "
		}
		loc += e.Path
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
