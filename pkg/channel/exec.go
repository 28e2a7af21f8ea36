package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"
)

// ExecTransport runs the agent as a local child process, for management
// hosts reachable from the machine iamdeploy runs on.
type ExecTransport struct {
	// Command is the interpreter; the agent path is appended to Args.
	// When empty the agent path itself is executed.
	Command string
	Args    []string
	Env     []string

	mu       sync.Mutex
	cmd      *exec.Cmd
	uploaded string
}

// Upload copies the agent script to remotePath on the local filesystem.
func (t *ExecTransport) Upload(_ context.Context, localPath, remotePath string) error {
	if localPath == remotePath {
		return nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open agent: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(remotePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o700)
	if err != nil {
		return fmt.Errorf("failed to create agent copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy agent: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close agent copy: %w", err)
	}

	t.mu.Lock()
	t.uploaded = remotePath
	t.mu.Unlock()
	return nil
}

// Execute starts the agent process.
func (t *ExecTransport) Execute(_ context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return nil, nil, fmt.Errorf("agent already running (pid %d)", t.cmd.Process.Pid)
	}

	var cmd *exec.Cmd
	if t.Command != "" {
		cmd = exec.Command(t.Command, append(append([]string{}, t.Args...), remotePath)...)
	} else {
		cmd = exec.Command(remotePath, t.Args...)
	}
	cmd.Env = append(os.Environ(), t.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start agent: %w", err)
	}

	log.Debug().Str("agent", remotePath).Int("pid", cmd.Process.Pid).Msg("agent process started")
	t.cmd = cmd
	return stdin, stdout, nil
}

// Cleanup waits for the agent to exit and removes the uploaded copy.
func (t *ExecTransport) Cleanup(_ context.Context, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var waitErr error
	if t.cmd != nil {
		waitErr = t.cmd.Wait()
		t.cmd = nil
	}

	if t.uploaded != "" {
		if err := os.Remove(t.uploaded); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove agent copy: %w", err)
		}
		t.uploaded = ""
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			log.Debug().Int("exit_code", exitErr.ExitCode()).Msg("agent exited with non-zero status")
			return nil
		}
		return fmt.Errorf("failed waiting for agent: %w", waitErr)
	}
	return nil
}
