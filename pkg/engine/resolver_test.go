package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

func TestResolveConstructsHandleOnce(t *testing.T) {
	var calls atomic.Int32
	factory := func(address string) (Handle, error) {
		calls.Add(1)
		return ParseHandle(address)
	}

	r := NewResolver("", &recordingInvoker{}, WithHandleFactory(factory))
	if r.State() != StateUnresolved {
		t.Fatalf("initial State() = %s", r.State())
	}

	const workers = 32
	handles := make([]Handle, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i], errs[i] = r.Resolve(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("factory called %d times, want 1", n)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if handles[i].Address() != DefaultRootAddress {
			t.Errorf("worker %d got %s", i, handles[i].Address())
		}
	}
	if r.State() != StateResolved {
		t.Errorf("State() = %s, want resolved", r.State())
	}
}

func TestResolveFailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	factory := func(address string) (Handle, error) {
		calls.Add(1)
		return ParseHandle(address)
	}

	r := NewResolver("no-domain-separator", &recordingInvoker{}, WithHandleFactory(factory))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Resolve(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrTargetAddressMalformed) {
			t.Errorf("worker %d error = %v, want TARGET_ADDRESS_MALFORMED", i, err)
		}
		if err != errs[0] {
			t.Errorf("worker %d observed a different failure", i)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("factory called %d times, want 1", n)
	}
	if r.State() != StateFailed {
		t.Errorf("State() = %s, want failed", r.State())
	}
}

func TestDispatchCreate(t *testing.T) {
	inv := &recordingInvoker{result: "ok"}
	r := NewResolver("", inv)

	e := NewEntity(testPartnerType())
	if err := e.SetProperty("partnerName", "partner-a"); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}

	res, err := r.Dispatch(context.Background(), VerbCreate, e)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Value != "ok" {
		t.Errorf("Value = %v", res.Value)
	}

	if len(inv.calls) != 1 {
		t.Fatalf("invoker called %d times, want 1", len(inv.calls))
	}
	got := inv.calls[0]
	if got.target.Address() != DefaultRootAddress {
		t.Errorf("target = %s", got.target.Address())
	}
	if got.operation != "addPartner" {
		t.Errorf("operation = %s", got.operation)
	}
	if !reflect.DeepEqual(got.params, []any{"partner-a"}) {
		t.Errorf("params = %v", got.params)
	}
	if !reflect.DeepEqual(got.signature, []string{SignatureString}) {
		t.Errorf("signature = %v", got.signature)
	}
}

func TestDispatchPrintAndDeletePassEmptyArrays(t *testing.T) {
	for _, verb := range []Verb{VerbPrint, VerbDelete} {
		t.Run(string(verb), func(t *testing.T) {
			inv := &recordingInvoker{}
			r := NewResolver("", inv)

			// required property unset: PRINT and DELETE never build parameters
			e := NewEntity(testPartnerType())
			if _, err := r.Dispatch(context.Background(), verb, e); err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}

			got := inv.calls[0]
			if got.params == nil || len(got.params) != 0 {
				t.Errorf("params = %#v, want empty non-nil", got.params)
			}
			if got.signature == nil || len(got.signature) != 0 {
				t.Errorf("signature = %#v, want empty non-nil", got.signature)
			}
		})
	}
}

func TestDispatchErrors(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name    string
		address string
		invoker *recordingInvoker
		entity  func(t *testing.T) *ConfigurationEntity
		verb    Verb
		want    error
		calls   int
	}{
		{
			name:    "channel failure",
			invoker: &recordingInvoker{err: boom},
			entity: func(t *testing.T) *ConfigurationEntity {
				e := NewEntity(testPartnerType())
				setProperty(t, e, "partnerName", "partner-a")
				return e
			},
			verb:  VerbCreate,
			want:  ErrInvocation,
			calls: 1,
		},
		{
			name:    "missing required",
			invoker: &recordingInvoker{},
			entity:  func(*testing.T) *ConfigurationEntity { return NewEntity(testPartnerType()) },
			verb:    VerbCreate,
			want:    ErrMissingRequiredProperty,
		},
		{
			name:    "unsupported operation",
			invoker: &recordingInvoker{},
			entity:  func(*testing.T) *ConfigurationEntity { return NewEntity(testAgentType()) },
			verb:    VerbDelete,
			want:    ErrUnsupportedOperation,
		},
		{
			name:    "malformed root",
			address: "broken",
			invoker: &recordingInvoker{},
			entity:  func(*testing.T) *ConfigurationEntity { return NewEntity(testPartnerType()) },
			verb:    VerbPrint,
			want:    ErrTargetAddressMalformed,
		},
		{
			name:    "unknown verb",
			invoker: &recordingInvoker{},
			entity:  func(*testing.T) *ConfigurationEntity { return NewEntity(testPartnerType()) },
			verb:    Verb("explode"),
			want:    ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.address, tt.invoker)
			_, err := r.Dispatch(context.Background(), tt.verb, tt.entity(t))
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if len(tt.invoker.calls) != tt.calls {
				t.Errorf("invoker called %d times, want %d", len(tt.invoker.calls), tt.calls)
			}
		})
	}
}

func TestDispatchChannelFailureIsTransient(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewResolver("", &recordingInvoker{err: boom})

	e := NewEntity(testPartnerType())
	setProperty(t, e, "partnerName", "partner-a")

	_, err := r.Dispatch(context.Background(), VerbCreate, e)
	if !IsTransient(err) {
		t.Errorf("IsTransient(%v) = false", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("underlying error not preserved: %v", err)
	}
}

func TestStatusTargetsCategoryAddress(t *testing.T) {
	inv := &recordingInvoker{result: true}
	r := NewResolver("", inv)

	res, err := r.Status(context.Background(), NewEntity(testPartnerType(), WithName("partner-a")))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if res.Value != true {
		t.Errorf("Value = %v", res.Value)
	}

	got := inv.calls[0]
	if got.target.Kind() != HandleCategory {
		t.Errorf("target kind = %s, want category", got.target.Kind())
	}
	if got.operation != "isPartnerPresent" {
		t.Errorf("operation = %s", got.operation)
	}
	if !reflect.DeepEqual(got.params, []any{"partner-a"}) {
		t.Errorf("params = %v", got.params)
	}
}

func TestPrepareDoesNotInvoke(t *testing.T) {
	inv := &recordingInvoker{}
	r := NewResolver("", inv)

	e := NewEntity(testPartnerType())
	setProperty(t, e, "partnerName", "partner-a")

	call, err := r.Prepare(context.Background(), VerbModify, e)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if len(inv.calls) != 0 {
		t.Errorf("Prepare invoked the channel")
	}
	want := "updatePartner(partner-a:java.lang.String, <nil>:java.lang.String, true:java.lang.Boolean, 10:java.lang.Integer)"
	if call.String() != want {
		t.Errorf("String() = %s, want %s", call.String(), want)
	}
}
