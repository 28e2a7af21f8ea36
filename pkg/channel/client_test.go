package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/iamdeploy/pkg/channel/protocol"
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// agentFunc answers one call.
type agentFunc func(call *protocol.InvokeMessage, enc *protocol.Encoder) error

// pipeTransport runs a fake agent in a goroutine over io.Pipe.
type pipeTransport struct {
	skipReady bool
	answer    agentFunc

	mu       sync.Mutex
	uploads  []string
	cleanups int
	wg       sync.WaitGroup
}

func (p *pipeTransport) Upload(_ context.Context, localPath, remotePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, localPath+"->"+remotePath)
	return nil
}

func (p *pipeTransport) Execute(_ context.Context, _ string) (io.WriteCloser, io.ReadCloser, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer outW.Close()

		enc := protocol.NewEncoder(outW)
		if !p.skipReady {
			if err := enc.EncodeReady(&protocol.ReadyMessage{Version: "1.0", Agent: "fake", PID: 42}); err != nil {
				return
			}
		}

		dec := protocol.NewDecoder(inR)
		for {
			call, err := dec.DecodeInvoke()
			if err != nil {
				return
			}
			if err := p.answer(call, enc); err != nil {
				return
			}
		}
	}()

	return inW, outR, nil
}

func (p *pipeTransport) Cleanup(_ context.Context, _ string) error {
	p.mu.Lock()
	p.cleanups++
	p.mu.Unlock()
	return nil
}

func echoAgent(call *protocol.InvokeMessage, enc *protocol.Encoder) error {
	value, _ := json.Marshal(map[string]any{
		"operation": call.Operation,
		"target":    call.Target,
		"count":     len(call.Arguments),
	})
	return enc.EncodeResult(&protocol.ResultMessage{CallID: call.ID, Value: value})
}

func rootHandle(t *testing.T) engine.Handle {
	t.Helper()
	h, err := engine.ParseHandle(engine.DefaultRootAddress)
	if err != nil {
		t.Fatalf("ParseHandle failed: %v", err)
	}
	return h
}

func startClient(t *testing.T, transport Transport) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Transport:      transport,
		RemotePath:     "/opt/iam/agent.py",
		StartupTimeout: 2 * time.Second,
		CallTimeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(&Config{RemotePath: "/x"}); err == nil {
		t.Error("expected error without transport")
	}
	if _, err := NewClient(&Config{Transport: &pipeTransport{}}); err == nil {
		t.Error("expected error without remote path")
	}
}

func TestClientStartReady(t *testing.T) {
	c := startClient(t, &pipeTransport{answer: echoAgent})
	ready := c.Ready()
	if ready == nil || ready.Agent != "fake" || ready.PID != 42 {
		t.Errorf("Ready() = %+v", ready)
	}
}

func TestClientStartUploadsAgent(t *testing.T) {
	transport := &pipeTransport{answer: echoAgent}
	c, err := NewClient(&Config{
		Transport:  transport,
		AgentPath:  "agent.py",
		RemotePath: "/tmp/agent.py",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close(context.Background())

	if !reflect.DeepEqual(transport.uploads, []string{"agent.py->/tmp/agent.py"}) {
		t.Errorf("uploads = %v", transport.uploads)
	}
}

func TestClientStartTimeout(t *testing.T) {
	c, err := NewClient(&Config{
		Transport:      &pipeTransport{skipReady: true, answer: echoAgent},
		RemotePath:     "/tmp/agent.py",
		StartupTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected READY timeout")
	}
}

func TestClientInvokeResult(t *testing.T) {
	c := startClient(t, &pipeTransport{answer: echoAgent})

	got, err := c.Invoke(context.Background(), rootHandle(t), "addSAML20SPFederationPartner",
		[]any{"partner-a"}, []string{engine.SignatureString})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("result type %T", got)
	}
	if m["operation"] != "addSAML20SPFederationPartner" || m["target"] != engine.DefaultRootAddress {
		t.Errorf("result = %v", m)
	}
	if m["count"] != float64(1) {
		t.Errorf("count = %v", m["count"])
	}
}

func TestClientInvokeFaultKeepsCode(t *testing.T) {
	agent := func(call *protocol.InvokeMessage, enc *protocol.Encoder) error {
		return enc.EncodeFault(&protocol.FaultMessage{
			CallID:  call.ID,
			Code:    "MBEAN_EXCEPTION",
			Message: "partner already exists",
		})
	}
	c := startClient(t, &pipeTransport{answer: agent})

	_, err := c.Invoke(context.Background(), rootHandle(t), "addSAML20SPFederationPartner",
		[]any{"partner-a"}, []string{engine.SignatureString})

	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want FaultError", err)
	}
	if fault.Code != "MBEAN_EXCEPTION" {
		t.Errorf("Code = %s", fault.Code)
	}

	// a fault does not break the stream
	if _, err := c.Invoke(context.Background(), rootHandle(t), "displaySAML20SPFederationPartners", []any{}, []string{}); !errors.As(err, &fault) {
		t.Errorf("second call error = %v, want FaultError", err)
	}
}

func TestClientInvokeAgentExit(t *testing.T) {
	agent := func(_ *protocol.InvokeMessage, enc *protocol.Encoder) error {
		_ = enc.EncodeExit(&protocol.ExitMessage{Reason: "shutdown"})
		return io.EOF
	}
	c := startClient(t, &pipeTransport{answer: agent})

	_, err := c.Invoke(context.Background(), rootHandle(t), "op", []any{}, []string{})
	if !errors.Is(err, ErrAgentExited) {
		t.Fatalf("error = %v, want ErrAgentExited", err)
	}

	_, err = c.Invoke(context.Background(), rootHandle(t), "op", []any{}, []string{})
	if !errors.Is(err, ErrClientClosed) {
		t.Errorf("error after exit = %v, want ErrClientClosed", err)
	}
}

func TestClientInvokeContextCancelled(t *testing.T) {
	block := make(chan struct{})
	agent := func(_ *protocol.InvokeMessage, _ *protocol.Encoder) error {
		<-block
		return io.EOF
	}
	c := startClient(t, &pipeTransport{answer: agent})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Invoke(ctx, rootHandle(t), "op", []any{}, []string{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestClientSerializesCalls(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	agent := func(call *protocol.InvokeMessage, enc *protocol.Encoder) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return echoAgent(call, enc)
	}
	c := startClient(t, &pipeTransport{answer: agent})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Invoke(context.Background(), rootHandle(t), "op", []any{}, []string{}); err != nil {
				t.Errorf("Invoke failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max in-flight calls = %d, want 1", maxInFlight)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	transport := &pipeTransport{answer: echoAgent}
	c, err := NewClient(&Config{Transport: transport, RemotePath: "/tmp/agent.py"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if transport.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", transport.cleanups)
	}
	if _, err := c.Invoke(context.Background(), rootHandle(t), "op", []any{}, []string{}); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Invoke after Close error = %v", err)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	boom := errors.New("boom")
	r.SetResult("isFederationPartnerPresent", true)
	r.SetError("deleteSAML20SPFederationPartners", boom)

	got, err := r.Invoke(context.Background(), rootHandle(t), "isFederationPartnerPresent", []any{"partner-a"}, []string{engine.SignatureString})
	if err != nil || got != true {
		t.Errorf("Invoke = %v, %v", got, err)
	}
	if _, err := r.Invoke(context.Background(), rootHandle(t), "deleteSAML20SPFederationPartners", []any{}, []string{}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}
	if calls[0].Target != engine.DefaultRootAddress || !reflect.DeepEqual(calls[0].Params, []any{"partner-a"}) {
		t.Errorf("call 0 = %+v", calls[0])
	}

	r.Reset()
	if len(r.Calls()) != 0 {
		t.Error("Reset did not clear calls")
	}
}

func TestExecTransportUploadAndCleanup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "agent.sh")
	dst := filepath.Join(dir, "agent-copy.sh")
	if err := os.WriteFile(src, []byte("#!/bin/sh\nexit 0\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	transport := &ExecTransport{}
	if err := transport.Upload(context.Background(), src, dst); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("copy missing: %v", err)
	}

	if err := transport.Cleanup(context.Background(), dst); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("copy still present after Cleanup: %v", err)
	}
}
