// Package agentsim is an in-memory management agent that speaks the channel
// protocol. It backs the iamdeploy-agent binary, which stands in for the
// scripting console during local runs and exec channel tests.
//
// Entities are keyed by category and by the first argument of CREATE and
// MODIFY. STATUS answers whether the named entity exists, REPORT lists the
// names of a category and DELETE removes every entity of its category, since
// the delete operations take no arguments.
package agentsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/iamdeploy/pkg/channel/protocol"
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// Version is reported in the READY message.
const Version = "1.0.0"

// Fault codes sent by the simulator.
const (
	FaultUnknownOperation = "UNKNOWN_OPERATION"
	FaultAlreadyExists    = "ALREADY_EXISTS"
	FaultNotFound         = "NOT_FOUND"
	FaultBadArguments     = "BAD_ARGUMENTS"
	FaultInvalidMessage   = "INVALID_MESSAGE"
)

type route struct {
	category string
	kind     engine.OperationKind
}

// Entity is one simulated entity with the arguments it was last written with.
type Entity struct {
	Name      string              `json:"name"`
	Arguments []protocol.Argument `json:"arguments"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Agent holds the simulated server state.
type Agent struct {
	mu       sync.Mutex
	routes   map[string]route
	entities map[string]map[string]*Entity
	calls    int
}

// New creates an agent answering the operations of every category in cat.
func New(cat *engine.Catalog) *Agent {
	a := &Agent{
		routes:   make(map[string]route),
		entities: make(map[string]map[string]*Entity),
	}
	for _, t := range cat.All() {
		for _, kind := range engine.OperationKinds {
			spec, err := t.OperationSpec(kind)
			if err != nil {
				continue
			}
			a.routes[spec.Name] = route{category: t.ID(), kind: kind}
		}
	}
	return a
}

// Serve announces READY on out and answers INVOKE messages from in until in
// is closed or ctx is cancelled. EXIT is sent before returning unless the
// input stream broke.
func (a *Agent) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	encoder := protocol.NewEncoder(out)
	decoder := protocol.NewDecoder(in)

	if err := encoder.EncodeReady(&protocol.ReadyMessage{
		Version: Version,
		Agent:   "iamdeploy-agentsim",
		PID:     os.Getpid(),
	}); err != nil {
		return fmt.Errorf("failed to send ready: %w", err)
	}

	type decoded struct {
		call *protocol.InvokeMessage
		err  error
	}
	incoming := make(chan decoded)
	go func() {
		defer close(incoming)
		for {
			call, err := decoder.DecodeInvoke()
			select {
			case incoming <- decoded{call: call, err: err}:
			case <-ctx.Done():
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, protocol.ErrStreamBroken) {
				return
			}
		}
	}()

	reason := "stdin_closed"
loop:
	for {
		var msg decoded
		select {
		case <-ctx.Done():
			reason = "cancelled"
			break loop
		case m, ok := <-incoming:
			if !ok {
				break loop
			}
			msg = m
		}

		switch {
		case errors.Is(msg.err, io.EOF):
			break loop
		case errors.Is(msg.err, protocol.ErrStreamBroken):
			return msg.err
		case msg.err != nil:
			if err := encoder.EncodeFault(&protocol.FaultMessage{Code: FaultInvalidMessage, Message: msg.err.Error()}); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		value, fault := a.Handle(msg.call)
		var err error
		if fault != nil {
			fault.CallID = msg.call.ID
			err = encoder.EncodeFault(fault)
		} else {
			err = a.sendResult(encoder, msg.call.ID, value, time.Since(start))
		}
		if err != nil {
			return err
		}
	}

	return encoder.EncodeExit(&protocol.ExitMessage{
		Reason:     reason,
		CallsTotal: a.Calls(),
	})
}

func (a *Agent) sendResult(encoder *protocol.Encoder, callID string, value any, took time.Duration) error {
	result := &protocol.ResultMessage{CallID: callID, Duration: took.Seconds()}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return encoder.EncodeFault(&protocol.FaultMessage{CallID: callID, Code: FaultBadArguments, Message: err.Error()})
		}
		result.Value = raw
	}
	return encoder.EncodeResult(result)
}

// Handle runs one call against the simulated state.
func (a *Agent) Handle(call *protocol.InvokeMessage) (any, *protocol.FaultMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++

	r, ok := a.routes[call.Operation]
	if !ok {
		return nil, fault(FaultUnknownOperation, "no such operation: %s", call.Operation)
	}
	byName := a.entities[r.category]

	switch r.kind {
	case engine.OperationReport:
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil

	case engine.OperationCreate, engine.OperationModify:
		name, err := firstName(call.Arguments)
		if err != nil {
			return nil, fault(FaultBadArguments, "%s: %v", call.Operation, err)
		}
		_, exists := byName[name]
		if r.kind == engine.OperationCreate && exists {
			return nil, fault(FaultAlreadyExists, "%s %q already exists", r.category, name)
		}
		if r.kind == engine.OperationModify && !exists {
			return nil, fault(FaultNotFound, "%s %q does not exist", r.category, name)
		}
		if byName == nil {
			byName = make(map[string]*Entity)
			a.entities[r.category] = byName
		}
		byName[name] = &Entity{Name: name, Arguments: call.Arguments, UpdatedAt: time.Now().UTC()}
		return name, nil

	case engine.OperationDelete:
		removed := len(byName)
		delete(a.entities, r.category)
		return removed, nil

	case engine.OperationStatus:
		name, err := firstName(call.Arguments)
		if err != nil {
			return nil, fault(FaultBadArguments, "%s: %v", call.Operation, err)
		}
		_, exists := byName[name]
		return exists, nil
	}

	return nil, fault(FaultUnknownOperation, "no handler for %s", call.Operation)
}

// Entities returns the entities of category ordered by name.
func (a *Agent) Entities(category string) []Entity {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entity, 0, len(a.entities[category]))
	for _, e := range a.entities[category] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Calls returns how many calls were handled.
func (a *Agent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func firstName(args []protocol.Argument) (string, error) {
	if len(args) == 0 {
		return "", errors.New("entity name argument missing")
	}
	name, ok := args[0].Value.(string)
	if !ok || name == "" {
		return "", fmt.Errorf("entity name must be a non-empty string, got %v", args[0].Value)
	}
	return name, nil
}

func fault(code, format string, args ...any) *protocol.FaultMessage {
	return &protocol.FaultMessage{Code: code, Message: fmt.Sprintf(format, args...)}
}
