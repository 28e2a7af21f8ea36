package engine

import (
	"context"
	"fmt"
	"strings"
)

// Invoker performs a remote operation on a target handle.
// The core never interprets the returned value.
type Invoker interface {
	Invoke(ctx context.Context, target Handle, operation string, params []any, signature []string) (any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, target Handle, operation string, params []any, signature []string) (any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, target Handle, operation string, params []any, signature []string) (any, error) {
	return f(ctx, target, operation, params, signature)
}

// HandleFactory constructs a handle from an address.
type HandleFactory func(address string) (Handle, error)

// Verb is a dispatchable action on an entity.
type Verb string

const (
	VerbPrint  Verb = "print"
	VerbCreate Verb = "create"
	VerbDelete Verb = "delete"
	VerbModify Verb = "modify"
)

// Verbs lists the dispatchable verbs.
var Verbs = []Verb{VerbPrint, VerbCreate, VerbDelete, VerbModify}

// ParseVerb parses a verb name case-insensitively.
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case VerbPrint, VerbCreate, VerbDelete, VerbModify:
		return v, nil
	default:
		return "", NewInvalidArgumentError("unknown verb", s)
	}
}

// OperationKind maps the verb to the operation it dispatches. PRINT reports.
func (v Verb) OperationKind() (OperationKind, error) {
	switch v {
	case VerbPrint:
		return OperationReport, nil
	case VerbCreate:
		return OperationCreate, nil
	case VerbDelete:
		return OperationDelete, nil
	case VerbModify:
		return OperationModify, nil
	default:
		return 0, NewInvalidArgumentError("unknown verb", string(v))
	}
}

// Invocation is the fully derived call handed to the invocation channel.
type Invocation struct {
	Target     Handle        `json:"-"`
	Address    string        `json:"target"`
	Category   string        `json:"category"`
	Entity     string        `json:"entity"`
	Kind       OperationKind `json:"-"`
	Operation  string        `json:"operation"`
	Parameters Parameters    `json:"parameters"`
}

// String renders the invocation as operation(arg:type, ...).
func (i Invocation) String() string {
	args := make([]string, len(i.Parameters.Values))
	for n, v := range i.Parameters.Values {
		args[n] = fmt.Sprintf("%v:%s", v, i.Parameters.Signature[n])
	}
	return fmt.Sprintf("%s(%s)", i.Operation, strings.Join(args, ", "))
}

// Result is the outcome of a dispatch.
type Result struct {
	Invocation Invocation `json:"invocation"`
	Value      any        `json:"value,omitempty"`
}
