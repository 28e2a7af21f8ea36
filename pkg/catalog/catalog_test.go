package catalog

import (
	"errors"
	"reflect"
	"testing"

	"github.com/openfroyo/iamdeploy/pkg/engine"
)

func TestDefaultCatalogAddresses(t *testing.T) {
	tests := map[string]string{
		FederationServiceProvider:  "/DeployedComponent/Federation/ServiceProvider/Instance",
		FederationIdentityProvider: "/DeployedComponent/Federation/IdentityProvider/Instance",
		AccessAgent:                "/DeployedComponent/Access/Agent/Instance",
		ApplicationDomain:          "/DeployedComponent/Access/ApplicationDomain/Instance",
		OAuthIdentityDomain:        "/DeployedComponent/OAuth/IdentityDomain/Instance",
		OAuthClient:                "/DeployedComponent/OAuth/Client/Instance",
	}

	if got := len(Default().IDs()); got != len(tests) {
		t.Fatalf("catalog has %d categories, want %d", got, len(tests))
	}

	for id, want := range tests {
		typ, err := TypeFrom(id)
		if err != nil {
			t.Fatalf("TypeFrom(%s) failed: %v", id, err)
		}
		if typ.Address() != want {
			t.Errorf("%s Address() = %s, want %s", id, typ.Address(), want)
		}
	}
}

func TestEveryCategoryDeclaresAllOperations(t *testing.T) {
	for _, typ := range Default().All() {
		for _, kind := range engine.OperationKinds {
			if _, err := typ.OperationSpec(kind); err != nil {
				t.Errorf("%s: %s not declared: %v", typ.ID(), kind, err)
			}
		}
	}
}

func TestTypeFromUnknown(t *testing.T) {
	if _, err := TypeFrom("ldap-directory"); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("error = %v, want INVALID_ARGUMENT", err)
	}
	if _, err := NewEntity("ldap-directory"); err == nil {
		t.Error("NewEntity accepted an unknown category")
	}
}

func TestServiceProviderCreate(t *testing.T) {
	e, err := NewEntity(FederationServiceProvider)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}
	if err := e.SetProperty(PartnerName, "partner-a"); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}

	params, err := e.BuildParameters(engine.OperationCreate)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}
	if !reflect.DeepEqual(params.Values, []any{"partner-a"}) {
		t.Errorf("Values = %v", params.Values)
	}
	if !reflect.DeepEqual(params.Signature, []string{engine.SignatureString}) {
		t.Errorf("Signature = %v", params.Signature)
	}
}

func TestAccessAgentDefaults(t *testing.T) {
	e, err := NewEntity(AccessAgent, engine.WithName("webgate-1"))
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}
	setProperty(t, e, AgentName, "webgate-1")

	params, err := e.BuildParameters(engine.OperationCreate)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}

	if len(params.Values) != 16 {
		t.Fatalf("got %d values, want 16", len(params.Values))
	}
	// agentBaseURL is optional without default
	if params.Values[1] != nil {
		t.Errorf("agentBaseURL = %v, want nil", params.Values[1])
	}
	if params.Values[5] != int32(100000) {
		t.Errorf("cacheElementsMax = %#v, want int32(100000)", params.Values[5])
	}
	if params.Signature[5] != engine.SignatureInteger {
		t.Errorf("cacheElementsMax signature = %s", params.Signature[5])
	}
	if params.Values[12] != engine.StatusEnabled {
		t.Errorf("state = %v, want Enabled", params.Values[12])
	}
}

func TestApplicationDomainModifyBuilder(t *testing.T) {
	e, err := NewEntity(ApplicationDomain)
	if err != nil {
		t.Fatalf("NewEntity failed: %v", err)
	}
	setProperty(t, e, DomainName, "hr-apps")
	setProperty(t, e, DomainSessionLifetime, "7200")
	setProperty(t, e, DomainAllowOAuthToken, "true")

	params, err := e.BuildParameters(engine.OperationModify)
	if err != nil {
		t.Fatalf("BuildParameters failed: %v", err)
	}

	wantSig := []string{engine.SignatureString, engine.SignatureMap}
	if !reflect.DeepEqual(params.Signature, wantSig) {
		t.Errorf("Signature = %v, want %v", params.Signature, wantSig)
	}
	wantValues := []any{"hr-apps", map[string]string{
		DomainSessionLifetime: "7200",
		DomainAllowOAuthToken: "true",
	}}
	if !reflect.DeepEqual(params.Values, wantValues) {
		t.Errorf("Values = %#v, want %#v", params.Values, wantValues)
	}

	// CREATE stays positional
	create, err := e.BuildParameters(engine.OperationCreate)
	if err != nil {
		t.Fatalf("BuildParameters(CREATE) failed: %v", err)
	}
	if len(create.Values) != 6 {
		t.Errorf("CREATE has %d values, want 6", len(create.Values))
	}
}

func TestApplicationDomainModifyRequiresName(t *testing.T) {
	e, _ := NewEntity(ApplicationDomain)
	if _, err := e.BuildParameters(engine.OperationModify); !errors.Is(err, engine.ErrMissingRequiredProperty) {
		t.Errorf("error = %v, want MISSING_REQUIRED_PROPERTY", err)
	}
}

func TestStatusQueriesCreateIdentity(t *testing.T) {
	for _, id := range Default().IDs() {
		t.Run(id, func(t *testing.T) {
			identity, err := IdentityProperty(id)
			if err != nil {
				t.Fatalf("IdentityProperty failed: %v", err)
			}

			typ, _ := TypeFrom(id)
			create, err := typ.OperationSpec(engine.OperationCreate)
			if err != nil {
				t.Fatalf("OperationSpec(CREATE) failed: %v", err)
			}
			if create.Slots[0].Property != identity {
				t.Errorf("CREATE keys on %s, STATUS queries %s", create.Slots[0].Property, identity)
			}

			// the entity name is left at its default and differs from the identity
			e, err := NewEntity(id)
			if err != nil {
				t.Fatalf("NewEntity failed: %v", err)
			}
			if err := e.SetProperty(identity, "partner-a"); err != nil {
				t.Fatalf("SetProperty failed: %v", err)
			}
			params, err := e.ResolveSlots(engine.OperationStatus)
			if err != nil {
				t.Fatalf("ResolveSlots(STATUS) failed: %v", err)
			}
			if !reflect.DeepEqual(params.Values, []any{"partner-a"}) {
				t.Errorf("STATUS params = %v, want [partner-a]", params.Values)
			}
		})
	}
}

func TestIdentityPropertyUnknownCategory(t *testing.T) {
	if _, err := IdentityProperty("no-such-category"); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func setProperty(t *testing.T, e *engine.ConfigurationEntity, id, raw string) {
	t.Helper()
	if err := e.SetProperty(id, raw); err != nil {
		t.Fatalf("SetProperty(%s): %v", id, err)
	}
}
