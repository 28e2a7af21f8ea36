// Package catalog holds the built-in entity categories iamdeploy can manage.
//
// Adding a category means adding one table entry here (and, when its CREATE
// or MODIFY arguments are not positional, a ParameterBuilder keyed by id).
// Dispatch code never changes.
package catalog

import (
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// Category ids.
const (
	FederationServiceProvider  = "federation-service-provider"
	FederationIdentityProvider = "federation-identity-provider"
	AccessAgent                = "access-agent"
	ApplicationDomain          = "application-domain"
	OAuthIdentityDomain        = "oauth-identity-domain"
	OAuthClient                = "oauth-client"
)

var builtin = mustCatalog(
	federationServiceProvider(),
	federationIdentityProvider(),
	accessAgent(),
	applicationDomain(),
	oauthIdentityDomain(),
	oauthClient(),
)

// builders selects non-default parameter builders by category id.
var builders = map[string]engine.ParameterBuilder{
	ApplicationDomain: applicationDomainBuilder{},
}

func mustCatalog(types ...engine.EntityTypeDescriptor) *engine.Catalog {
	c, err := engine.NewCatalog(types...)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the built-in catalog.
func Default() *engine.Catalog {
	return builtin
}

// TypeFrom looks up a built-in category by id.
func TypeFrom(id string) (engine.EntityTypeDescriptor, error) {
	return builtin.From(id)
}

// BuilderFor returns the parameter builder registered for a category id.
func BuilderFor(id string) engine.ParameterBuilder {
	if b, ok := builders[id]; ok {
		return b
	}
	return engine.DefaultParameterBuilder{}
}

// IdentityProperty returns the property that identifies an entity of the
// category on the server: CREATE keys on it and STATUS queries it.
func IdentityProperty(id string) (string, error) {
	t, err := TypeFrom(id)
	if err != nil {
		return "", err
	}
	spec, err := t.OperationSpec(engine.OperationStatus)
	if err != nil {
		return "", err
	}
	return spec.Slots[0].Property, nil
}

// NewEntity creates an entity of a built-in category with the category's
// parameter builder.
func NewEntity(id string, opts ...engine.EntityOption) (*engine.ConfigurationEntity, error) {
	t, err := TypeFrom(id)
	if err != nil {
		return nil, err
	}
	opts = append([]engine.EntityOption{engine.WithParameterBuilder(BuilderFor(id))}, opts...)
	return engine.NewEntity(t, opts...), nil
}
