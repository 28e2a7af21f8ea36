package catalog

import (
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// Federation partner property ids.
const (
	PartnerName          = "partnerName"
	PartnerDescription   = "description"
	PartnerMetadataURL   = "metadataURL"
	PartnerProviderID    = "providerID"
	PartnerEnabled       = "enabled"
	PartnerNameIDFormat  = "nameIDFormat"
	PartnerSignAssertion = "signAssertion"
	PartnerUserMapping   = "userMappingAttribute"
	PartnerProfile       = "partnerProfile"
)

func federationServiceProvider() engine.EntityTypeDescriptor {
	props := engine.MustPropertySet(
		engine.Property(PartnerName, engine.TypeString, true),
		engine.Property(PartnerDescription, engine.TypeString, false),
		engine.Property(PartnerMetadataURL, engine.TypeURL, false),
		engine.Property(PartnerProviderID, engine.TypeString, false),
		engine.PropertyWithDefault(PartnerEnabled, engine.TypeBoolean, false, "true"),
		engine.PropertyWithDefault(PartnerNameIDFormat, engine.TypeString, false, "emailAddress"),
		engine.PropertyWithDefault(PartnerSignAssertion, engine.TypeBoolean, false, "false"),
		engine.PropertyWithDefault(PartnerProfile, engine.TypeString, false, "saml20-sp-partner-profile"),
	)

	return engine.MustEntityType(FederationServiceProvider, "Federation", "ServiceProvider", props,
		map[engine.OperationKind]engine.OperationSpec{
			engine.OperationReport: {Name: "displaySAML20SPFederationPartners"},
			engine.OperationCreate: {
				Name:  "addSAML20SPFederationPartner",
				Slots: []engine.Slot{{Property: PartnerName}},
			},
			engine.OperationModify: {
				Name: "updateSAML20SPFederationPartner",
				Slots: []engine.Slot{
					{Property: PartnerName},
					{Property: PartnerDescription},
					{Property: PartnerMetadataURL},
					{Property: PartnerProviderID},
					{Property: PartnerEnabled},
					{Property: PartnerNameIDFormat},
					{Property: PartnerSignAssertion},
					{Property: PartnerProfile},
				},
			},
			engine.OperationDelete: {Name: "deleteSAML20SPFederationPartners"},
			engine.OperationStatus: {
				Name:  "isFederationPartnerPresent",
				Slots: []engine.Slot{{Property: PartnerName}},
			},
		},
	)
}

func federationIdentityProvider() engine.EntityTypeDescriptor {
	props := engine.MustPropertySet(
		engine.Property(PartnerName, engine.TypeString, true),
		engine.Property(PartnerDescription, engine.TypeString, false),
		engine.Property(PartnerMetadataURL, engine.TypeURL, false),
		engine.Property(PartnerProviderID, engine.TypeString, false),
		engine.PropertyWithDefault(PartnerEnabled, engine.TypeBoolean, false, "true"),
		engine.PropertyWithDefault(PartnerUserMapping, engine.TypeString, true, "mail"),
		engine.PropertyWithDefault(PartnerProfile, engine.TypeString, false, "saml20-idp-partner-profile"),
	)

	return engine.MustEntityType(FederationIdentityProvider, "Federation", "IdentityProvider", props,
		map[engine.OperationKind]engine.OperationSpec{
			engine.OperationReport: {Name: "displaySAML20IdPFederationPartners"},
			engine.OperationCreate: {
				Name: "addSAML20IdPFederationPartner",
				Slots: []engine.Slot{
					{Property: PartnerName},
					{Property: PartnerDescription},
					{Property: PartnerMetadataURL},
					{Property: PartnerUserMapping},
				},
			},
			engine.OperationModify: {
				Name: "updateSAML20IdPFederationPartner",
				Slots: []engine.Slot{
					{Property: PartnerName},
					{Property: PartnerDescription},
					{Property: PartnerMetadataURL},
					{Property: PartnerProviderID},
					{Property: PartnerEnabled},
					{Property: PartnerUserMapping},
					{Property: PartnerProfile},
				},
			},
			engine.OperationDelete: {Name: "deleteSAML20IdPFederationPartners"},
			engine.OperationStatus: {
				Name:  "isFederationPartnerPresent",
				Slots: []engine.Slot{{Property: PartnerName}},
			},
		},
	)
}
