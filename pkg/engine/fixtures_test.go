package engine

import (
	"context"
	"sync"
)

func testPartnerType() EntityTypeDescriptor {
	props := MustPropertySet(
		Property("partnerName", TypeString, true),
		Property("description", TypeString, false),
		Property("metadataURL", TypeURL, false),
		PropertyWithDefault("enabled", TypeBoolean, false, "true"),
		PropertyWithDefault("maxSessions", TypeInteger, true, "10"),
		PropertyWithDefault("state", TypeStatus, false, StatusEnabled),
	)

	return MustEntityType("federation-service-provider", "Federation", "ServiceProvider", props,
		map[OperationKind]OperationSpec{
			OperationReport: {Name: "displayPartners"},
			OperationCreate: {
				Name:  "addPartner",
				Slots: []Slot{{Property: "partnerName"}},
			},
			OperationModify: {
				Name: "updatePartner",
				Slots: []Slot{
					{Property: "partnerName"},
					{Property: "description"},
					{Property: "enabled"},
					{Property: "maxSessions"},
				},
			},
			OperationDelete: {Name: "deletePartners"},
			OperationStatus: {
				Name:  "isPartnerPresent",
				Slots: []Slot{{Property: NameSlot}},
			},
		},
	)
}

func testAgentType() EntityTypeDescriptor {
	props := MustPropertySet(
		Property("agentName", TypeString, true),
		PropertyWithDefault("logoutURI", TypeURI, false, "/logout"),
	)

	return MustEntityType("access-agent", "Access", "Agent", props,
		map[OperationKind]OperationSpec{
			OperationCreate: {
				Name:  "agentcreate",
				Slots: []Slot{{Property: "agentName"}, {Property: "logoutURI"}},
			},
		},
	)
}

// call is one recorded invocation.
type call struct {
	target    Handle
	operation string
	params    []any
	signature []string
}

// recordingInvoker records every call and answers with result or err.
type recordingInvoker struct {
	mu     sync.Mutex
	calls  []call
	result any
	err    error
}

func (r *recordingInvoker) Invoke(_ context.Context, target Handle, operation string, params []any, signature []string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{target: target, operation: operation, params: params, signature: signature})
	return r.result, r.err
}
