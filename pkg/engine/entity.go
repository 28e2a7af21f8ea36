package engine

import (
	"sort"
)

// Parameters is a positional argument array with its aligned signature.
type Parameters struct {
	Values    []any    `json:"values"`
	Signature []string `json:"signature"`
}

// Len returns the number of positional arguments.
func (p Parameters) Len() int { return len(p.Values) }

// ParameterBuilder produces the CREATE and MODIFY arguments of an entity.
// Categories whose operations take structurally different argument sets
// supply their own implementation; DefaultParameterBuilder covers the rest.
type ParameterBuilder interface {
	CreateParameters(e *ConfigurationEntity) (Parameters, error)
	ModifyParameters(e *ConfigurationEntity) (Parameters, error)
}

// DefaultParameterBuilder resolves each declared slot positionally.
type DefaultParameterBuilder struct{}

// CreateParameters resolves the CREATE slots.
func (DefaultParameterBuilder) CreateParameters(e *ConfigurationEntity) (Parameters, error) {
	return e.ResolveSlots(OperationCreate)
}

// ModifyParameters resolves the MODIFY slots.
func (DefaultParameterBuilder) ModifyParameters(e *ConfigurationEntity) (Parameters, error) {
	return e.ResolveSlots(OperationModify)
}

// EntityOption configures a ConfigurationEntity.
type EntityOption func(*ConfigurationEntity)

// WithParameterBuilder replaces the default positional builder.
func WithParameterBuilder(b ParameterBuilder) EntityOption {
	return func(e *ConfigurationEntity) {
		if b != nil {
			e.builder = b
		}
	}
}

// WithName overrides the entity name derived from the category id.
func WithName(name string) EntityOption {
	return func(e *ConfigurationEntity) {
		if name != "" {
			e.name = name
		}
	}
}

// ConfigurationEntity is one instance of a category being configured.
// It is owned by a single caller and is not safe for concurrent mutation.
type ConfigurationEntity struct {
	entityType EntityTypeDescriptor
	name       string
	values     map[string]any
	builder    ParameterBuilder
}

// NewEntity binds a new entity to t. The name defaults to the category id.
func NewEntity(t EntityTypeDescriptor, opts ...EntityOption) *ConfigurationEntity {
	e := &ConfigurationEntity{
		entityType: t,
		name:       t.ID(),
		values:     make(map[string]any),
		builder:    DefaultParameterBuilder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Type returns the bound category.
func (e *ConfigurationEntity) Type() EntityTypeDescriptor { return e.entityType }

// Name returns the entity name.
func (e *ConfigurationEntity) Name() string { return e.name }

// SetName renames the entity.
func (e *ConfigurationEntity) SetName(name string) { e.name = name }

// SetProperty converts raw to the declared type and stores it.
// The values map is left untouched on failure.
func (e *ConfigurationEntity) SetProperty(id, raw string) error {
	prop, err := e.entityType.Properties().From(id)
	if err != nil {
		return NewUnknownPropertyError(e.entityType.ID(), id)
	}

	value, err := prop.Type().Convert(raw)
	if err != nil {
		return NewTypeMismatchError(id, prop.Type(), err)
	}

	e.values[id] = value
	return nil
}

// UnsetProperty removes a previously set value. Unknown ids are ignored.
func (e *ConfigurationEntity) UnsetProperty(id string) {
	delete(e.values, id)
}

// Value returns the converted value of id and whether it is set.
func (e *ConfigurationEntity) Value(id string) (any, bool) {
	v, ok := e.values[id]
	return v, ok
}

// Values returns a copy of the set values.
func (e *ConfigurationEntity) Values() map[string]any {
	out := make(map[string]any, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// PropertyIDs returns the ids of the set values, sorted.
func (e *ConfigurationEntity) PropertyIDs() []string {
	ids := make([]string, 0, len(e.values))
	for id := range e.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildParameters returns the arguments for a CREATE or MODIFY operation.
// Other kinds fail with UnsupportedOperation.
func (e *ConfigurationEntity) BuildParameters(kind OperationKind) (Parameters, error) {
	switch kind {
	case OperationCreate:
		return e.builder.CreateParameters(e)
	case OperationModify:
		return e.builder.ModifyParameters(e)
	default:
		return Parameters{}, NewUnsupportedOperationError(e.entityType.ID(), kind.String())
	}
}

// ResolveSlots walks the declared slots of kind in order. Each slot takes the
// set value, then the default, then fails if the property is required;
// optional properties without either contribute a nil placeholder.
func (e *ConfigurationEntity) ResolveSlots(kind OperationKind) (Parameters, error) {
	spec, err := e.entityType.OperationSpec(kind)
	if err != nil {
		return Parameters{}, err
	}

	params := Parameters{
		Values:    make([]any, len(spec.Slots)),
		Signature: make([]string, len(spec.Slots)),
	}

	for i, slot := range spec.Slots {
		params.Signature[i] = slot.Signature

		if slot.Property == NameSlot {
			params.Values[i] = e.name
			continue
		}

		value, err := e.resolve(slot.Property, kind)
		if err != nil {
			return Parameters{}, err
		}
		params.Values[i] = value
	}

	return params, nil
}

// resolve returns the value for one property: set value, default, nil or error.
func (e *ConfigurationEntity) resolve(id string, kind OperationKind) (any, error) {
	if v, ok := e.values[id]; ok {
		return v, nil
	}

	prop, err := e.entityType.Properties().From(id)
	if err != nil {
		return nil, err
	}

	if def, ok := prop.Default(); ok {
		v, err := prop.Type().Convert(def)
		if err != nil {
			return nil, NewTypeMismatchError(id, prop.Type(), err)
		}
		return v, nil
	}

	if prop.Required() {
		return nil, NewMissingRequiredPropertyError(id, kind)
	}
	return nil, nil
}

// Resolved returns the value for id after applying defaults, without failing
// on missing optional properties. Builders use it for non-positional layouts.
func (e *ConfigurationEntity) Resolved(id string, kind OperationKind) (any, error) {
	return e.resolve(id, kind)
}
