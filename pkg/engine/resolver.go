package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ResolverState is the lifecycle state of a RemoteTargetResolver.
type ResolverState int32

const (
	StateUnresolved ResolverState = iota
	StateResolving
	StateResolved
	StateFailed
)

// String returns the state name.
func (s ResolverState) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ResolverState(%d)", int32(s))
	}
}

// ResolverOption configures a RemoteTargetResolver.
type ResolverOption func(*RemoteTargetResolver)

// WithHandleFactory replaces ParseHandle as the handle constructor.
func WithHandleFactory(f HandleFactory) ResolverOption {
	return func(r *RemoteTargetResolver) {
		if f != nil {
			r.factory = f
		}
	}
}

// RemoteTargetResolver owns the lazily constructed handle to the management
// root and dispatches entity operations through an Invoker.
//
// The handle is constructed at most once per resolver. A failed construction
// is terminal: every later call observes the same error, and a new resolver
// must be created to try again.
type RemoteTargetResolver struct {
	address string
	invoker Invoker
	factory HandleFactory

	// mu serializes the Unresolved -> Resolving -> Resolved|Failed transition.
	mu      sync.Mutex
	state   atomic.Int32
	handle  atomic.Pointer[Handle]
	failure error
}

// NewResolver creates a resolver for the root address. An empty address
// selects DefaultRootAddress.
func NewResolver(address string, invoker Invoker, opts ...ResolverOption) *RemoteTargetResolver {
	if address == "" {
		address = DefaultRootAddress
	}
	r := &RemoteTargetResolver{
		address: address,
		invoker: invoker,
		factory: ParseHandle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Address returns the root address the resolver targets.
func (r *RemoteTargetResolver) Address() string { return r.address }

// State returns the current lifecycle state.
func (r *RemoteTargetResolver) State() ResolverState {
	return ResolverState(r.state.Load())
}

// Resolve returns the cached handle, constructing it on first use.
func (r *RemoteTargetResolver) Resolve(_ context.Context) (Handle, error) {
	if h := r.handle.Load(); h != nil {
		return *h, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ResolverState(r.state.Load()) {
	case StateResolved:
		return *r.handle.Load(), nil
	case StateFailed:
		return Handle{}, r.failure
	}

	r.state.Store(int32(StateResolving))

	h, err := r.factory(r.address)
	if err != nil {
		r.failure = NewTargetAddressMalformedError(r.address, err)
		r.state.Store(int32(StateFailed))
		return Handle{}, r.failure
	}

	r.handle.Store(&h)
	r.state.Store(int32(StateResolved))
	return h, nil
}

// Prepare resolves the target and derives the invocation for verb without
// calling the channel.
func (r *RemoteTargetResolver) Prepare(ctx context.Context, verb Verb, entity *ConfigurationEntity) (Invocation, error) {
	kind, err := verb.OperationKind()
	if err != nil {
		return Invocation{}, err
	}

	target, err := r.Resolve(ctx)
	if err != nil {
		return Invocation{}, err
	}

	spec, err := entity.Type().OperationSpec(kind)
	if err != nil {
		return Invocation{}, err
	}

	params := Parameters{Values: []any{}, Signature: []string{}}
	if kind == OperationCreate || kind == OperationModify {
		params, err = entity.BuildParameters(kind)
		if err != nil {
			return Invocation{}, err
		}
	}

	return Invocation{
		Target:     target,
		Address:    target.Address(),
		Category:   entity.Type().ID(),
		Entity:     entity.Name(),
		Kind:       kind,
		Operation:  spec.Name,
		Parameters: params,
	}, nil
}

// Dispatch performs verb on entity through the invocation channel.
// Channel failures are wrapped as invocation errors and never retried.
func (r *RemoteTargetResolver) Dispatch(ctx context.Context, verb Verb, entity *ConfigurationEntity) (*Result, error) {
	inv, err := r.Prepare(ctx, verb, entity)
	if err != nil {
		return nil, err
	}
	return r.invoke(ctx, inv)
}

// Status queries the STATUS operation of the entity's category against the
// category address, passing the declared STATUS slots.
func (r *RemoteTargetResolver) Status(ctx context.Context, entity *ConfigurationEntity) (*Result, error) {
	t := entity.Type()

	spec, err := t.OperationSpec(OperationStatus)
	if err != nil {
		return nil, err
	}

	target, err := r.factory(t.Address())
	if err != nil {
		return nil, NewTargetAddressMalformedError(t.Address(), err)
	}

	params, err := entity.ResolveSlots(OperationStatus)
	if err != nil {
		return nil, err
	}

	return r.invoke(ctx, Invocation{
		Target:     target,
		Address:    target.Address(),
		Category:   t.ID(),
		Entity:     entity.Name(),
		Kind:       OperationStatus,
		Operation:  spec.Name,
		Parameters: params,
	})
}

func (r *RemoteTargetResolver) invoke(ctx context.Context, inv Invocation) (*Result, error) {
	value, err := r.invoker.Invoke(ctx, inv.Target, inv.Operation, inv.Parameters.Values, inv.Parameters.Signature)
	if err != nil {
		return nil, NewInvocationError(inv.Operation, err).WithResource(inv.Entity)
	}
	return &Result{Invocation: inv, Value: value}, nil
}
