package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openfroyo/iamdeploy/pkg/channel"
	"github.com/openfroyo/iamdeploy/pkg/config"
	"github.com/openfroyo/iamdeploy/pkg/deploy"
	"github.com/openfroyo/iamdeploy/pkg/engine"
	"github.com/openfroyo/iamdeploy/pkg/policy"
	"github.com/openfroyo/iamdeploy/pkg/stores"
	"github.com/openfroyo/iamdeploy/pkg/telemetry"
	"github.com/openfroyo/iamdeploy/pkg/transports/ssh"
)

const defaultSettingsFile = "iamdeploy.yaml"

// runtime holds everything a command needs to dispatch definitions.
type runtime struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	store    stores.Store
	policy   *policy.Engine
	client   *channel.Client
	service  *deploy.Service
}

// runtimeOptions select which collaborators a command needs.
type runtimeOptions struct {
	// channel starts the configured channel. Without it dispatches are recorded.
	channel bool
	// history opens the store when a path is configured.
	history bool
	// production selects the production telemetry profile.
	production bool
}

// loadSettings reads --config, falling back to ./iamdeploy.yaml and then
// to the defaults.
func loadSettings() (*config.Settings, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultSettingsFile); err != nil {
			return applyOverrides(config.DefaultSettings())
		}
		path = defaultSettingsFile
	}

	settings, err := config.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return applyOverrides(settings)
}

func applyOverrides(settings *config.Settings) (*config.Settings, error) {
	if logLevel != "" {
		settings.Logging.Level = strings.ToLower(logLevel)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// newRuntime wires telemetry, history, policy and the channel from settings.
func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(buildVersion, opts.production))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt := &runtime{
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("cli"),
	}

	if err := rt.init(ctx, opts); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) init(ctx context.Context, opts runtimeOptions) error {
	if opts.history && rt.settings.Store.Path != "" {
		store, err := stores.Open(ctx, rt.settings.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		rt.store = store
	}

	if rt.settings.Policy.Enabled {
		pe, err := rt.newPolicyEngine(ctx)
		if err != nil {
			return err
		}
		rt.policy = pe
	}

	invoker, err := rt.newInvoker(ctx, opts.channel)
	if err != nil {
		return err
	}

	rt.service, err = deploy.NewService(deploy.Config{
		Resolver:        engine.NewResolver(rt.settings.RootAddress, invoker),
		Policy:          rt.policy,
		Store:           rt.store,
		Telemetry:       rt.tel,
		Parallelism:     rt.settings.Deploy.Parallelism,
		ContinueOnError: rt.settings.Deploy.ContinueOnError,
	})
	return err
}

func (rt *runtime) newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(*rt.tel.Logger.Zerolog(),
		policy.WithMode(policy.Mode(rt.settings.Policy.Mode)),
		policy.WithBuiltins(rt.settings.Policy.Builtins),
		policy.WithReloadHook(func(count int) {
			rt.tel.Metrics.RecordPolicyReload()
			_ = rt.tel.Events.Publish(telemetry.Event{
				Type:    telemetry.EventTypePolicyReloaded,
				Level:   "info",
				Message: fmt.Sprintf("%d user policies loaded", count),
				Data:    map[string]interface{}{"count": count},
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if len(rt.settings.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, rt.settings.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// newInvoker builds the configured channel. The dry-run channel, or a
// command that does not need the channel, gets a Recorder.
func (rt *runtime) newInvoker(ctx context.Context, start bool) (engine.Invoker, error) {
	ch := rt.settings.Channel
	if !start || ch.Type == "dry-run" {
		return channel.NewRecorder(), nil
	}

	var transport channel.Transport
	switch ch.Type {
	case "exec":
		transport = &channel.ExecTransport{Command: ch.Command, Args: ch.Args}
	case "ssh":
		t, err := ssh.NewAgentTransport(sshConfig(ch.SSH))
		if err != nil {
			return nil, fmt.Errorf("failed to create ssh transport: %w", err)
		}
		transport = t
	default:
		return nil, fmt.Errorf("unknown channel type %q", ch.Type)
	}

	client, err := channel.NewClient(&channel.Config{
		Transport:      transport,
		AgentPath:      ch.AgentPath,
		RemotePath:     ch.RemotePath,
		StartupTimeout: ch.StartupTimeout,
		CallTimeout:    ch.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	rt.client = client

	rt.logger.Zerolog().Info().
		Str("channel", ch.Type).
		Str("remote_path", ch.RemotePath).
		Msg("Starting agent")
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}
	return client, nil
}

func sshConfig(s config.SSHSettings) *ssh.Config {
	cfg := ssh.DefaultConfig(s.Host, s.User)
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	if s.AuthMethod != "" {
		cfg.AuthMethod = ssh.AuthMethod(s.AuthMethod)
	}
	cfg.Password = s.Password
	cfg.PrivateKeyPath = s.PrivateKeyPath
	if s.KnownHostsPath != "" {
		cfg.KnownHostsPath = s.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = s.StrictHostKeyChecking
	cfg.Interpreter = s.Interpreter
	if s.ConnectionTimeout != 0 {
		cfg.ConnectionTimeout = s.ConnectionTimeout
	}
	cfg.KeepAliveInterval = s.KeepAliveInterval
	return cfg
}

// Close stops the agent, closes history and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var errs []error
	if rt.client != nil {
		errs = append(errs, rt.client.Close(ctx))
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	errs = append(errs, rt.tel.Shutdown(ctx))
	return errors.Join(errs...)
}

// loadDefinitions reads sources and applies the label selector.
func loadDefinitions(ctx context.Context, sources []string, selector string) ([]config.Definition, *config.DefinitionSet, error) {
	set, err := config.NewDefinitionLoader().Load(ctx, sourcesOrDefault(sources))
	if err != nil {
		return nil, nil, err
	}
	if err := set.Err(); err != nil {
		return nil, set, fmt.Errorf("invalid definitions:\n%w", err)
	}

	if selector == "" {
		return set.Definitions, set, nil
	}
	labels, err := config.ParseSelector(selector)
	if err != nil {
		return nil, set, err
	}
	return set.Select(labels), set, nil
}

// watchPolicies reloads user policies on change when policy.watch is set.
func (rt *runtime) watchPolicies(ctx context.Context) error {
	p := rt.settings.Policy
	if rt.policy == nil || !p.Watch || len(p.Paths) == 0 {
		return nil
	}
	return rt.policy.Watch(ctx, p.Paths)
}

// logEvents writes warnings, errors and policy reloads from the event
// stream to the log for the long-running commands.
func (rt *runtime) logEvents() {
	rt.tel.Events.Subscribe(
		telemetry.EventLogger(rt.tel.Logger.NewComponentLogger("events")),
		telemetry.AnyOf(
			telemetry.FilterByLevel(telemetry.EventLevelWarning),
			telemetry.FilterByType(telemetry.EventTypePolicyReloaded),
		),
	)
}
