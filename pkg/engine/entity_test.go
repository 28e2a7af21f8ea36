package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewEntityDefaultsName(t *testing.T) {
	e := NewEntity(testPartnerType())
	if e.Name() != "federation-service-provider" {
		t.Errorf("Name() = %s, want category id", e.Name())
	}

	named := NewEntity(testPartnerType(), WithName("partner-a"))
	if named.Name() != "partner-a" {
		t.Errorf("Name() = %s, want partner-a", named.Name())
	}
}

func TestSetPropertyErrors(t *testing.T) {
	e := NewEntity(testPartnerType())
	if err := e.SetProperty("description", "first"); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	before := e.Values()

	tests := []struct {
		name string
		id   string
		raw  string
		want error
	}{
		{"unknown property", "colour", "blue", ErrUnknownProperty},
		{"boolean mismatch", "enabled", "maybe", ErrTypeMismatch},
		{"integer mismatch", "maxSessions", "ten", ErrTypeMismatch},
		{"url mismatch", "metadataURL", "relative/path", ErrTypeMismatch},
		{"status mismatch", "state", "On", ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.SetProperty(tt.id, tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SetProperty(%s) error = %v, want %v", tt.id, err, tt.want)
			}
			if !reflect.DeepEqual(e.Values(), before) {
				t.Errorf("values changed after failed SetProperty: %v", e.Values())
			}
		})
	}
}

func TestBuildParametersCreate(t *testing.T) {
	e := NewEntity(testPartnerType())
	if err := e.SetProperty("partnerName", "partner-a"); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}

	params, err := e.BuildParameters(OperationCreate)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}

	if !reflect.DeepEqual(params.Values, []any{"partner-a"}) {
		t.Errorf("Values = %v", params.Values)
	}
	if !reflect.DeepEqual(params.Signature, []string{SignatureString}) {
		t.Errorf("Signature = %v", params.Signature)
	}
}

func TestBuildParametersModifyResolution(t *testing.T) {
	e := NewEntity(testPartnerType())
	setProperty(t, e, "partnerName", "partner-a")
	setProperty(t, e, "enabled", "false")

	params, err := e.BuildParameters(OperationModify)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}

	// set value, nil placeholder, set value over default, default
	want := []any{"partner-a", nil, false, int32(10)}
	if !reflect.DeepEqual(params.Values, want) {
		t.Errorf("Values = %#v, want %#v", params.Values, want)
	}
	if len(params.Values) != len(params.Signature) {
		t.Errorf("values and signature lengths differ: %d vs %d", len(params.Values), len(params.Signature))
	}
}

func TestBuildParametersIsDeterministic(t *testing.T) {
	e := NewEntity(testPartnerType())
	setProperty(t, e, "partnerName", "partner-a")
	setProperty(t, e, "description", "Partner A")

	first, err := e.BuildParameters(OperationModify)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.BuildParameters(OperationModify)
		if err != nil {
			t.Fatalf("BuildParameters failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestBuildParametersMissingRequired(t *testing.T) {
	e := NewEntity(testPartnerType())

	_, err := e.BuildParameters(OperationCreate)
	if !errors.Is(err, ErrMissingRequiredProperty) {
		t.Fatalf("error = %v, want MISSING_REQUIRED_PROPERTY", err)
	}

	setProperty(t, e, "partnerName", "partner-a")
	if _, err := e.BuildParameters(OperationCreate); err != nil {
		t.Fatalf("after SetProperty: %v", err)
	}

	e.UnsetProperty("partnerName")
	if _, err := e.BuildParameters(OperationCreate); !errors.Is(err, ErrMissingRequiredProperty) {
		t.Fatalf("after UnsetProperty error = %v, want MISSING_REQUIRED_PROPERTY", err)
	}
}

func TestBuildParametersOnlyCreateAndModify(t *testing.T) {
	e := NewEntity(testPartnerType())
	for _, kind := range []OperationKind{OperationReport, OperationDelete, OperationStatus} {
		if _, err := e.BuildParameters(kind); !errors.Is(err, ErrUnsupportedOperation) {
			t.Errorf("BuildParameters(%s) error = %v, want UNSUPPORTED_OPERATION", kind, err)
		}
	}
}

func TestResolveSlotsNameSlot(t *testing.T) {
	e := NewEntity(testPartnerType(), WithName("partner-a"))
	params, err := e.ResolveSlots(OperationStatus)
	if err != nil {
		t.Fatalf("ResolveSlots failed: %v", err)
	}
	if !reflect.DeepEqual(params.Values, []any{"partner-a"}) {
		t.Errorf("Values = %v", params.Values)
	}
}

func TestResolveSlotsConvertsDefaults(t *testing.T) {
	e := NewEntity(testAgentType())
	setProperty(t, e, "agentName", "webgate")

	params, err := e.BuildParameters(OperationCreate)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}
	if !reflect.DeepEqual(params.Values, []any{"webgate", "/logout"}) {
		t.Errorf("Values = %v", params.Values)
	}
}

type fixedBuilder struct{}

func (fixedBuilder) CreateParameters(*ConfigurationEntity) (Parameters, error) {
	return Parameters{Values: []any{"fixed"}, Signature: []string{SignatureString}}, nil
}

func (fixedBuilder) ModifyParameters(*ConfigurationEntity) (Parameters, error) {
	return Parameters{Values: []any{}, Signature: []string{}}, nil
}

func TestCustomParameterBuilder(t *testing.T) {
	e := NewEntity(testPartnerType(), WithParameterBuilder(fixedBuilder{}))

	params, err := e.BuildParameters(OperationCreate)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}
	if !reflect.DeepEqual(params.Values, []any{"fixed"}) {
		t.Errorf("Values = %v", params.Values)
	}
}

func setProperty(t *testing.T, e *ConfigurationEntity, id, raw string) {
	t.Helper()
	if err := e.SetProperty(id, raw); err != nil {
		t.Fatalf("SetProperty(%s): %v", id, err)
	}
}
