// Package protocol defines the JSON-lines protocol spoken between iamdeploy
// and a management agent over a stdin/stdout pair.
//
// The agent announces itself with READY, then answers every INVOKE with
// exactly one RESULT or FAULT carrying the same call id. EXIT is sent when
// the agent shuts down.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the agent is ready to receive calls
	MessageTypeReady MessageType = "READY"
	// MessageTypeInvoke carries an operation call from iamdeploy
	MessageTypeInvoke MessageType = "INVOKE"
	// MessageTypeResult carries the value returned by a call
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeFault reports that a call failed on the remote side
	MessageTypeFault MessageType = "FAULT"
	// MessageTypeExit indicates the agent is exiting
	MessageTypeExit MessageType = "EXIT"
)

// Message is the envelope of every protocol line.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the agent is ready to receive calls.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Agent    string            `json:"agent"`
	PID      int               `json:"pid"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Argument is one positional argument with its remote type name.
type Argument struct {
	Value any    `json:"value"`
	Type  string `json:"type"`
}

// InvokeMessage asks the agent to run an operation on a target.
type InvokeMessage struct {
	ID        string            `json:"id"`
	Target    string            `json:"target"`
	Operation string            `json:"operation"`
	Arguments []Argument        `json:"arguments"`
	Timeout   int               `json:"timeout"` // seconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ResultMessage carries the value returned by a successful call.
type ResultMessage struct {
	CallID   string          `json:"call_id"`
	Value    json.RawMessage `json:"value,omitempty"`
	Duration float64         `json:"duration"` // seconds
}

// FaultMessage reports a failed call.
type FaultMessage struct {
	CallID    string            `json:"call_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
}

// ExitMessage is sent before the agent terminates.
type ExitMessage struct {
	Reason     string `json:"reason"`
	ExitCode   int    `json:"exit_code"`
	CallsTotal int    `json:"calls_total"`
}

// NewInvokeMessage builds an INVOKE from aligned value and signature arrays.
func NewInvokeMessage(id, target, operation string, params []any, signature []string, timeout time.Duration) (*InvokeMessage, error) {
	if len(params) != len(signature) {
		return nil, fmt.Errorf("params and signature differ in length: %d vs %d", len(params), len(signature))
	}

	args := make([]Argument, len(params))
	for i := range params {
		args[i] = Argument{Value: params[i], Type: signature[i]}
	}

	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	return &InvokeMessage{
		ID:        id,
		Target:    target,
		Operation: operation,
		Arguments: args,
		Timeout:   seconds,
	}, nil
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeInvoke, MessageTypeResult,
		MessageTypeFault, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the invoke message is valid.
func (m *InvokeMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("call ID is required")
	}
	if m.Target == "" {
		return fmt.Errorf("target is required")
	}
	if m.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	for i, arg := range m.Arguments {
		if arg.Type == "" {
			return fmt.Errorf("argument %d has no type", i)
		}
	}
	return nil
}

// Validate checks if the fault message is valid.
func (m *FaultMessage) Validate() error {
	if m.Code == "" {
		return fmt.Errorf("fault code is required")
	}
	return nil
}
