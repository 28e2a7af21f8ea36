package catalog

import (
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// OAuth property ids.
const (
	IdentityDomainName     = "identityDomain"
	IdentityDescription    = "description"
	TrustStoreIdentifier   = "trustStoreIdentifier"
	ConsentServiceEnabled  = "consentServiceEnabled"
	AccessTokenExpiry      = "accessTokenExpiry"
	RefreshTokenEnabled    = "refreshTokenEnabled"
	RefreshTokenExpiry     = "refreshTokenExpiry"
	ClientName             = "clientName"
	ClientSecret           = "clientSecret"
	ClientType             = "clientType"
	ClientRedirectURI      = "redirectURI"
	ClientScopes           = "scopes"
	ClientGrantTypes       = "grantTypes"
	ClientDescription      = "description"
	ClientIdentityDomainID = "identityDomain"
)

func oauthIdentityDomain() engine.EntityTypeDescriptor {
	props := engine.MustPropertySet(
		engine.Property(IdentityDomainName, engine.TypeString, true),
		engine.Property(IdentityDescription, engine.TypeString, false),
		engine.Property(TrustStoreIdentifier, engine.TypeString, false),
		engine.PropertyWithDefault(ConsentServiceEnabled, engine.TypeBoolean, false, "false"),
		engine.PropertyWithDefault(AccessTokenExpiry, engine.TypeInteger, true, "3600"),
		engine.PropertyWithDefault(RefreshTokenEnabled, engine.TypeBoolean, false, "false"),
		engine.PropertyWithDefault(RefreshTokenExpiry, engine.TypeInteger, false, "86400"),
	)

	slots := []engine.Slot{
		{Property: IdentityDomainName},
		{Property: IdentityDescription},
		{Property: TrustStoreIdentifier},
		{Property: ConsentServiceEnabled},
		{Property: AccessTokenExpiry},
		{Property: RefreshTokenEnabled},
		{Property: RefreshTokenExpiry},
	}

	return engine.MustEntityType(OAuthIdentityDomain, "OAuth", "IdentityDomain", props,
		map[engine.OperationKind]engine.OperationSpec{
			engine.OperationReport: {Name: "getOAuthIdentityDomains"},
			engine.OperationCreate: {Name: "createOAuthIdentityDomain", Slots: slots},
			engine.OperationModify: {Name: "modifyOAuthIdentityDomain", Slots: slots},
			engine.OperationDelete: {Name: "deleteOAuthIdentityDomain"},
			engine.OperationStatus: {
				Name:  "existsOAuthIdentityDomain",
				Slots: []engine.Slot{{Property: IdentityDomainName}},
			},
		},
	)
}

func oauthClient() engine.EntityTypeDescriptor {
	props := engine.MustPropertySet(
		engine.Property(ClientName, engine.TypeString, true),
		engine.Property(ClientIdentityDomainID, engine.TypeString, true),
		engine.Property(ClientDescription, engine.TypeString, false),
		engine.Property(ClientSecret, engine.TypeString, false),
		engine.PropertyWithDefault(ClientType, engine.TypeString, true, "CONFIDENTIAL_CLIENT"),
		engine.Property(ClientRedirectURI, engine.TypeURL, false),
		engine.Property(ClientScopes, engine.TypeString, false),
		engine.PropertyWithDefault(ClientGrantTypes, engine.TypeString, true, "CLIENT_CREDENTIALS"),
	)

	return engine.MustEntityType(OAuthClient, "OAuth", "Client", props,
		map[engine.OperationKind]engine.OperationSpec{
			engine.OperationReport: {Name: "getOAuthClients"},
			engine.OperationCreate: {
				Name: "createOAuthClient",
				Slots: []engine.Slot{
					{Property: ClientName},
					{Property: ClientIdentityDomainID},
					{Property: ClientDescription},
					{Property: ClientSecret},
					{Property: ClientType},
					{Property: ClientRedirectURI},
					{Property: ClientScopes},
					{Property: ClientGrantTypes},
				},
			},
			engine.OperationModify: {
				Name: "modifyOAuthClient",
				Slots: []engine.Slot{
					{Property: ClientName},
					{Property: ClientIdentityDomainID},
					{Property: ClientDescription},
					{Property: ClientRedirectURI},
					{Property: ClientScopes},
					{Property: ClientGrantTypes},
				},
			},
			engine.OperationDelete: {Name: "deleteOAuthClient"},
			engine.OperationStatus: {
				Name:  "existsOAuthClient",
				Slots: []engine.Slot{{Property: ClientName}},
			},
		},
	)
}
