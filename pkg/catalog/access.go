package catalog

import (
	"fmt"

	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// Access agent property ids.
const (
	AgentName             = "agentName"
	AgentBaseURL          = "agentBaseURL"
	AgentPassword         = "agentPassword"
	AgentDescription      = "description"
	AgentAutoCreatePolicy = "autoCreatePolicy"
	AgentCacheElementsMax = "cacheElementsMax"
	AgentCacheTimeout     = "cacheTimeout"
	AgentConnectionMax    = "connectionMax"
	AgentDenyNotProtected = "denyNotProtected"
	AgentHostIdentifier   = "hostIdentifier"
	AgentLogoutCallback   = "logoutCallbackURL"
	AgentSecurity         = "security"
	AgentState            = "state"
	AgentTimeoutThreshold = "timeoutThreshold"
	AgentTokenValidity    = "tokenValidityPeriod"
	AgentVirtualHost      = "virtualHost"
)

// Application domain property ids.
const (
	DomainName            = "domainName"
	DomainDescription     = "description"
	DomainSessionLifetime = "sessionLifetime"
	DomainIdleTimeout     = "idleTimeout"
	DomainAllowOAuthToken = "allowOAuthToken"
	DomainAllowUMAToken   = "allowUMAToken"
)

func accessAgent() engine.EntityTypeDescriptor {
	props := engine.MustPropertySet(
		engine.Property(AgentName, engine.TypeString, true),
		engine.Property(AgentBaseURL, engine.TypeURL, false),
		engine.Property(AgentPassword, engine.TypeString, false),
		engine.Property(AgentDescription, engine.TypeString, false),
		engine.PropertyWithDefault(AgentAutoCreatePolicy, engine.TypeBoolean, true, "false"),
		engine.PropertyWithDefault(AgentCacheElementsMax, engine.TypeInteger, true, "100000"),
		engine.PropertyWithDefault(AgentCacheTimeout, engine.TypeInteger, true, "1800"),
		engine.PropertyWithDefault(AgentConnectionMax, engine.TypeInteger, true, "1"),
		engine.PropertyWithDefault(AgentDenyNotProtected, engine.TypeBoolean, true, "true"),
		engine.PropertyWithDefault(AgentHostIdentifier, engine.TypeString, true, "SERVER_NAME"),
		engine.PropertyWithDefault(AgentLogoutCallback, engine.TypeURI, false, "/oam_logout_success"),
		engine.PropertyWithDefault(AgentSecurity, engine.TypeString, true, "open"),
		engine.PropertyWithDefault(AgentState, engine.TypeStatus, false, engine.StatusEnabled),
		engine.PropertyWithDefault(AgentTimeoutThreshold, engine.TypeInteger, true, "-1"),
		engine.PropertyWithDefault(AgentTokenValidity, engine.TypeInteger, true, "3600"),
		engine.PropertyWithDefault(AgentVirtualHost, engine.TypeBoolean, false, "true"),
	)

	slots := []engine.Slot{
		{Property: AgentName},
		{Property: AgentBaseURL},
		{Property: AgentPassword},
		{Property: AgentDescription},
		{Property: AgentAutoCreatePolicy},
		{Property: AgentCacheElementsMax},
		{Property: AgentCacheTimeout},
		{Property: AgentConnectionMax},
		{Property: AgentDenyNotProtected},
		{Property: AgentHostIdentifier},
		{Property: AgentLogoutCallback},
		{Property: AgentSecurity},
		{Property: AgentState},
		{Property: AgentTimeoutThreshold},
		{Property: AgentTokenValidity},
		{Property: AgentVirtualHost},
	}

	return engine.MustEntityType(AccessAgent, "Access", "Agent", props,
		map[engine.OperationKind]engine.OperationSpec{
			engine.OperationReport: {Name: "infoagent"},
			engine.OperationCreate: {Name: "agentcreate", Slots: slots},
			engine.OperationModify: {Name: "agentupdate", Slots: slots},
			engine.OperationDelete: {Name: "agentdelete"},
			engine.OperationStatus: {
				Name:  "agentvalidate",
				Slots: []engine.Slot{{Property: AgentName}},
			},
		},
	)
}

func applicationDomain() engine.EntityTypeDescriptor {
	props := engine.MustPropertySet(
		engine.Property(DomainName, engine.TypeString, true),
		engine.Property(DomainDescription, engine.TypeString, false),
		engine.PropertyWithDefault(DomainSessionLifetime, engine.TypeInteger, false, "3600"),
		engine.Property(DomainIdleTimeout, engine.TypeInteger, false),
		engine.PropertyWithDefault(DomainAllowOAuthToken, engine.TypeBoolean, false, "false"),
		engine.PropertyWithDefault(DomainAllowUMAToken, engine.TypeBoolean, false, "false"),
	)

	return engine.MustEntityType(ApplicationDomain, "Access", "ApplicationDomain", props,
		map[engine.OperationKind]engine.OperationSpec{
			engine.OperationReport: {Name: "displayApplicationDomains"},
			engine.OperationCreate: {
				Name: "createApplicationDomain",
				Slots: []engine.Slot{
					{Property: DomainName},
					{Property: DomainDescription},
					{Property: DomainSessionLifetime},
					{Property: DomainIdleTimeout},
					{Property: DomainAllowOAuthToken},
					{Property: DomainAllowUMAToken},
				},
			},
			engine.OperationModify: {
				Name: "updateApplicationDomain",
				Slots: []engine.Slot{
					{Property: DomainName},
				},
			},
			engine.OperationDelete: {Name: "deleteApplicationDomain"},
			engine.OperationStatus: {
				Name:  "isApplicationDomainPresent",
				Slots: []engine.Slot{{Property: DomainName}},
			},
		},
	)
}

// applicationDomainBuilder sends MODIFY as (domainName, attributes) where
// attributes carries only the explicitly set values; the remote side leaves
// every other attribute as it is.
type applicationDomainBuilder struct{}

func (applicationDomainBuilder) CreateParameters(e *engine.ConfigurationEntity) (engine.Parameters, error) {
	return e.ResolveSlots(engine.OperationCreate)
}

func (applicationDomainBuilder) ModifyParameters(e *engine.ConfigurationEntity) (engine.Parameters, error) {
	name, err := e.Resolved(DomainName, engine.OperationModify)
	if err != nil {
		return engine.Parameters{}, err
	}

	attributes := make(map[string]string)
	for _, id := range e.PropertyIDs() {
		if id == DomainName {
			continue
		}
		v, _ := e.Value(id)
		attributes[id] = fmt.Sprint(v)
	}

	return engine.Parameters{
		Values:    []any{name, attributes},
		Signature: []string{engine.SignatureString, engine.SignatureMap},
	}, nil
}
