// Package channel provides invocation channels that carry engine operations
// to a remote management agent.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/iamdeploy/pkg/channel/protocol"
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// ErrClientClosed is returned by calls on a closed or broken client.
var ErrClientClosed = errors.New("channel client is closed")

// ErrAgentExited is returned when the agent sends EXIT while a call is pending.
var ErrAgentExited = errors.New("agent exited unexpectedly")

// Transport places the agent on the management host and starts it.
type Transport interface {
	// Upload copies the agent script to the management host.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Execute starts the agent and returns its stdin and stdout.
	Execute(ctx context.Context, remotePath string) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Cleanup stops the agent and removes what Upload placed.
	Cleanup(ctx context.Context, remotePath string) error
}

// FaultError is a FAULT reply from the agent. The remote code is preserved.
type FaultError struct {
	CallID    string
	Code      string
	Message   string
	Retryable bool
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("remote fault %s: %s", e.Code, e.Message)
}

// Config contains client configuration options.
type Config struct {
	Transport      Transport
	AgentPath      string // local agent script; empty when the agent is preinstalled
	RemotePath     string // agent location on the management host
	StartupTimeout time.Duration
	CallTimeout    time.Duration
}

// Client is an engine.Invoker speaking the agent protocol. Calls are
// serialized: one INVOKE is outstanding at any time.
type Client struct {
	transport   Transport
	remotePath  string
	agentPath   string
	startup     time.Duration
	callTimeout time.Duration

	mu      sync.Mutex
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	ready   *protocol.ReadyMessage
	started bool
	closed  bool
	cleaned bool
}

// NewClient creates a new agent client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.RemotePath == "" {
		return nil, fmt.Errorf("remote path is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 2 * time.Minute
	}

	return &Client{
		transport:   cfg.Transport,
		remotePath:  cfg.RemotePath,
		agentPath:   cfg.AgentPath,
		startup:     cfg.StartupTimeout,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Start uploads the agent if configured, starts it and waits for READY.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return nil
	}

	if c.agentPath != "" {
		if err := c.transport.Upload(ctx, c.agentPath, c.remotePath); err != nil {
			return fmt.Errorf("failed to upload agent: %w", err)
		}
	}

	stdin, stdout, err := c.transport.Execute(ctx, c.remotePath)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	c.stdin = stdin
	c.stdout = stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.decoder = protocol.NewDecoder(stdout)

	readyCtx, cancel := context.WithTimeout(ctx, c.startup)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseData(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		c.closeStreams()
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		c.closeStreams()
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
		c.started = true
		log.Debug().
			Str("agent", ready.Agent).
			Str("version", ready.Version).
			Int("pid", ready.PID).
			Msg("management agent ready")
		return nil
	}
}

// Invoke implements engine.Invoker.
func (c *Client) Invoke(ctx context.Context, target engine.Handle, operation string, params []any, signature []string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if !c.started {
		return nil, fmt.Errorf("agent not started")
	}

	call, err := protocol.NewInvokeMessage(uuid.New().String(), target.Address(), operation, params, signature, c.callTimeout)
	if err != nil {
		return nil, err
	}

	if err := c.encoder.EncodeInvoke(call); err != nil {
		c.markBroken()
		return nil, fmt.Errorf("failed to send call: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	type reply struct {
		value any
		err   error
	}
	replyCh := make(chan reply, 1)
	go func() {
		v, err := c.await(call.ID)
		replyCh <- reply{value: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		// the reply may still arrive; the stream can no longer be trusted
		c.markBroken()
		return nil, fmt.Errorf("call %s: %w", operation, callCtx.Err())
	case r := <-replyCh:
		if r.err != nil {
			var fault *FaultError
			if !errors.As(r.err, &fault) {
				c.markBroken()
			}
		}
		return r.value, r.err
	}
}

// await reads until the RESULT or FAULT for callID arrives.
func (c *Client) await(callID string) (any, error) {
	for {
		msg, err := c.decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeResult:
			var result protocol.ResultMessage
			if err := protocol.ParseData(msg.Data, &result); err != nil {
				return nil, fmt.Errorf("failed to parse result: %w", err)
			}
			if result.CallID != callID {
				return nil, fmt.Errorf("call ID mismatch: expected %s, got %s", callID, result.CallID)
			}
			if len(result.Value) == 0 {
				return nil, nil
			}
			var value any
			if err := json.Unmarshal(result.Value, &value); err != nil {
				return nil, fmt.Errorf("failed to parse result value: %w", err)
			}
			return value, nil

		case protocol.MessageTypeFault:
			var fault protocol.FaultMessage
			if err := protocol.ParseData(msg.Data, &fault); err != nil {
				return nil, fmt.Errorf("failed to parse fault: %w", err)
			}
			if fault.CallID != "" && fault.CallID != callID {
				return nil, fmt.Errorf("call ID mismatch: expected %s, got %s", callID, fault.CallID)
			}
			return nil, &FaultError{
				CallID:    callID,
				Code:      fault.Code,
				Message:   fault.Message,
				Retryable: fault.Retryable,
			}

		case protocol.MessageTypeExit:
			return nil, ErrAgentExited

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// Ready returns the READY message received during startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close stops the agent and releases the transport.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleaned {
		return nil
	}
	c.closed = true
	c.cleaned = true

	errs := c.closeStreams()
	if err := c.transport.Cleanup(ctx, c.remotePath); err != nil {
		errs = append(errs, fmt.Errorf("failed to clean up agent: %w", err))
	}

	return errors.Join(errs...)
}

// markBroken closes the client after a protocol desync. Must hold mu.
func (c *Client) markBroken() {
	c.closed = true
	c.closeStreams()
}

// closeStreams closes stdin (which asks the agent to exit) and stdout. Must hold mu.
func (c *Client) closeStreams() []error {
	var errs []error
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
		c.stdin = nil
	}
	if c.stdout != nil {
		if err := c.stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdout: %w", err))
		}
		c.stdout = nil
	}
	return errs
}
