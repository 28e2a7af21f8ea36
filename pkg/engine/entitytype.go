package engine

import (
	"fmt"
	"strings"
)

// ComponentRoot is the first segment of every category address.
const ComponentRoot = "DeployedComponent"

// NameSlot is a slot placeholder that resolves to the entity name instead of a property.
const NameSlot = "@name"

// OperationKind is the closed set of operations a category declares.
type OperationKind int

const (
	OperationReport OperationKind = iota + 1
	OperationCreate
	OperationModify
	OperationDelete
	OperationStatus
)

var operationKindNames = map[OperationKind]string{
	OperationReport: "REPORT",
	OperationCreate: "CREATE",
	OperationModify: "MODIFY",
	OperationDelete: "DELETE",
	OperationStatus: "STATUS",
}

// OperationKinds lists every kind in declaration order.
var OperationKinds = []OperationKind{
	OperationReport,
	OperationCreate,
	OperationModify,
	OperationDelete,
	OperationStatus,
}

// String returns the upper-case kind name.
func (k OperationKind) String() string {
	if name, ok := operationKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// ParseOperationKind parses a kind name case-insensitively.
func ParseOperationKind(name string) (OperationKind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for k, n := range operationKindNames {
		if n == upper {
			return k, nil
		}
	}
	return 0, NewInvalidArgumentError("unknown operation kind", name)
}

// Slot is one positional argument of an operation.
type Slot struct {
	// Property is the property id filling this slot, or NameSlot.
	Property string `json:"property"`

	// Signature is the remote type name; derived from the property type when empty.
	Signature string `json:"signature"`
}

// OperationSpec is the remote operation name plus its ordered slots.
type OperationSpec struct {
	Name  string `json:"name"`
	Slots []Slot `json:"slots"`
}

// Signature returns the ordered remote type names of the operation.
func (s OperationSpec) Signature() []string {
	sig := make([]string, len(s.Slots))
	for i, slot := range s.Slots {
		sig[i] = slot.Signature
	}
	return sig
}

func (s OperationSpec) clone() OperationSpec {
	slots := make([]Slot, len(s.Slots))
	copy(slots, s.Slots)
	return OperationSpec{Name: s.Name, Slots: slots}
}

// EntityTypeDescriptor describes one entity category: identity, address
// grouping, property set and the fixed operation table.
type EntityTypeDescriptor struct {
	id         string
	flavor     string
	segment    string
	properties PropertySet
	operations map[OperationKind]OperationSpec
}

// NewEntityType validates and freezes a category definition. Every slot must
// reference a declared property (or NameSlot); empty slot signatures are
// derived from the property's value type.
func NewEntityType(id, flavor, segment string, properties PropertySet, operations map[OperationKind]OperationSpec) (EntityTypeDescriptor, error) {
	if id == "" {
		return EntityTypeDescriptor{}, fmt.Errorf("category id is required")
	}
	if flavor == "" || segment == "" {
		return EntityTypeDescriptor{}, fmt.Errorf("category %s: flavor and segment are required", id)
	}

	frozen := make(map[OperationKind]OperationSpec, len(operations))
	for kind, spec := range operations {
		if _, ok := operationKindNames[kind]; !ok {
			return EntityTypeDescriptor{}, fmt.Errorf("category %s: unknown operation kind %d", id, int(kind))
		}
		if spec.Name == "" {
			return EntityTypeDescriptor{}, fmt.Errorf("category %s: %s operation name is required", id, kind)
		}

		spec = spec.clone()
		for i, slot := range spec.Slots {
			if slot.Property == NameSlot {
				if slot.Signature == "" {
					spec.Slots[i].Signature = SignatureString
				}
				continue
			}
			prop, err := properties.From(slot.Property)
			if err != nil {
				return EntityTypeDescriptor{}, fmt.Errorf("category %s: %s slot %d: %w", id, kind, i, err)
			}
			if slot.Signature == "" {
				spec.Slots[i].Signature = prop.Type().Signature()
			}
		}
		frozen[kind] = spec
	}

	return EntityTypeDescriptor{
		id:         id,
		flavor:     flavor,
		segment:    segment,
		properties: properties,
		operations: frozen,
	}, nil
}

// MustEntityType is NewEntityType for static tables; it panics on error.
func MustEntityType(id, flavor, segment string, properties PropertySet, operations map[OperationKind]OperationSpec) EntityTypeDescriptor {
	t, err := NewEntityType(id, flavor, segment, properties, operations)
	if err != nil {
		panic(err)
	}
	return t
}

// ID returns the category key.
func (t EntityTypeDescriptor) ID() string { return t.id }

// Flavor returns the first address grouping level.
func (t EntityTypeDescriptor) Flavor() string { return t.flavor }

// Segment returns the second address grouping level.
func (t EntityTypeDescriptor) Segment() string { return t.segment }

// Properties returns the category's property set.
func (t EntityTypeDescriptor) Properties() PropertySet { return t.properties }

// Address returns the hierarchical address of the category,
// /DeployedComponent/{flavor}/{segment}/Instance.
func (t EntityTypeDescriptor) Address() string {
	return "/" + ComponentRoot + "/" + t.flavor + "/" + t.segment + "/Instance"
}

// OperationSpec returns the declared operation for kind.
func (t EntityTypeDescriptor) OperationSpec(kind OperationKind) (OperationSpec, error) {
	spec, ok := t.operations[kind]
	if !ok {
		return OperationSpec{}, NewUnsupportedOperationError(t.id, kind.String())
	}
	return spec.clone(), nil
}

// Catalog is a static, ordered table of entity categories.
type Catalog struct {
	types []EntityTypeDescriptor
}

// NewCatalog builds a catalog, rejecting duplicate category ids.
func NewCatalog(types ...EntityTypeDescriptor) (*Catalog, error) {
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if seen[t.id] {
			return nil, fmt.Errorf("duplicate category id: %s", t.id)
		}
		seen[t.id] = true
	}

	copied := make([]EntityTypeDescriptor, len(types))
	copy(copied, types)
	return &Catalog{types: copied}, nil
}

// From looks up a category by id with a linear scan.
func (c *Catalog) From(id string) (EntityTypeDescriptor, error) {
	for _, t := range c.types {
		if t.id == id {
			return t, nil
		}
	}
	return EntityTypeDescriptor{}, NewInvalidArgumentError("unknown entity category", id)
}

// All returns the categories in declaration order.
func (c *Catalog) All() []EntityTypeDescriptor {
	out := make([]EntityTypeDescriptor, len(c.types))
	copy(out, c.types)
	return out
}

// IDs returns the category ids in declaration order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.types))
	for i, t := range c.types {
		ids[i] = t.id
	}
	return ids
}
