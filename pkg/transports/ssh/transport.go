// Package ssh runs the management agent on a remote host over SSH.
// The agent script is placed with SFTP and started in an SSH session whose
// stdin and stdout carry the agent protocol.
package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "upload", "execute")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// AgentTransport implements the channel transport over SSH.
type AgentTransport struct {
	client *SSHClient

	mu       sync.Mutex
	session  *ssh.Session
	uploaded string
}

// NewAgentTransport creates a transport for the management host in config.
func NewAgentTransport(config *Config) (*AgentTransport, error) {
	client, err := NewSSHClient(config)
	if err != nil {
		return nil, err
	}
	return &AgentTransport{client: client}, nil
}

// Upload copies the agent script to remotePath via SFTP.
func (t *AgentTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := t.client.Connect(ctx); err != nil {
		return err
	}

	startTime := time.Now()

	localFile, err := os.Open(localPath)
	if err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to open local file: %w", err),
		}
	}
	defer localFile.Close()

	sshClient, err := t.client.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote directory: %w", err),
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	bytesWritten, err := io.Copy(remoteFile, localFile)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}

	if mode := t.client.config.AgentMode; mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Msg("failed to set agent permissions")
		}
	}

	t.mu.Lock()
	t.uploaded = remotePath
	t.mu.Unlock()

	log.Info().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("agent uploaded")

	return nil
}

// Execute starts the agent in a new SSH session.
func (t *AgentTransport) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	if err := t.client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return nil, nil, &TransportError{Op: "execute", Err: fmt.Errorf("agent already running")}
	}

	sshClient, err := t.client.getClient()
	if err != nil {
		return nil, nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{Op: "execute", Err: fmt.Errorf("failed to create stdin pipe: %w", err)}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, &TransportError{Op: "execute", Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}

	command := t.client.config.AgentCommand(remotePath)
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, nil, &TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to start agent: %w", err),
			IsTemporary: true,
		}
	}

	log.Debug().Str("command", command).Msg("agent session started")
	t.session = session
	return stdin, &sessionReader{Reader: stdout, session: session}, nil
}

// Cleanup closes the agent session, removes the uploaded script and disconnects.
func (t *AgentTransport) Cleanup(ctx context.Context, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		_ = t.session.Close()
		t.session = nil
	}

	var removeErr error
	if t.uploaded != "" && t.client.IsConnected() {
		removeErr = t.removeRemote(t.uploaded)
		t.uploaded = ""
	}

	if err := t.client.Disconnect(); err != nil {
		return err
	}
	return removeErr
}

func (t *AgentTransport) removeRemote(remotePath string) error {
	sshClient, err := t.client.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{Op: "cleanup", Err: fmt.Errorf("failed to create SFTP client: %w", err)}
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil && !os.IsNotExist(err) {
		return &TransportError{Op: "cleanup", Err: fmt.Errorf("failed to remove agent: %w", err)}
	}
	return nil
}

// sessionReader closes the SSH session with the stdout stream.
type sessionReader struct {
	io.Reader
	session *ssh.Session
}

func (r *sessionReader) Close() error {
	return r.session.Close()
}
