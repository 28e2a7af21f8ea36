package catalog

import (
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

// PropertyInfo is the printable form of a property descriptor.
type PropertyInfo struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	Default    string `json:"default,omitempty"`
	HasDefault bool   `json:"has_default"`
}

// OperationInfo is the printable form of one operation table entry.
type OperationInfo struct {
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Slots     []string `json:"slots"`
	Signature []string `json:"signature"`
}

// Description is the printable form of an entity category.
type Description struct {
	ID         string          `json:"id"`
	Flavor     string          `json:"flavor"`
	Segment    string          `json:"segment"`
	Address    string          `json:"address"`
	Properties []PropertyInfo  `json:"properties"`
	Operations []OperationInfo `json:"operations"`
}

// Describe flattens a category for display and the HTTP API. Operations
// follow engine.OperationKinds; kinds the category omits are left out.
func Describe(t engine.EntityTypeDescriptor) Description {
	d := Description{
		ID:      t.ID(),
		Flavor:  t.Flavor(),
		Segment: t.Segment(),
		Address: t.Address(),
	}

	for _, p := range t.Properties().All() {
		def, ok := p.Default()
		d.Properties = append(d.Properties, PropertyInfo{
			ID:         p.ID(),
			Type:       string(p.Type()),
			Required:   p.Required(),
			Default:    def,
			HasDefault: ok,
		})
	}

	for _, kind := range engine.OperationKinds {
		spec, err := t.OperationSpec(kind)
		if err != nil {
			continue
		}
		slots := make([]string, len(spec.Slots))
		for i, s := range spec.Slots {
			slots[i] = s.Property
		}
		d.Operations = append(d.Operations, OperationInfo{
			Kind:      kind.String(),
			Name:      spec.Name,
			Slots:     slots,
			Signature: spec.Signature(),
		})
	}

	return d
}

// DescribeAll describes every built-in category in catalog order.
func DescribeAll() []Description {
	types := builtin.All()
	out := make([]Description, len(types))
	for i, t := range types {
		out[i] = Describe(t)
	}
	return out
}
