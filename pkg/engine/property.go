package engine

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValueType declares the expected representation of a property value.
type ValueType string

const (
	TypeString  ValueType = "STRING"
	TypeBoolean ValueType = "BOOLEAN"
	TypeInteger ValueType = "INTEGER"
	TypeURL     ValueType = "URL"
	TypeURI     ValueType = "URI"
	TypeStatus  ValueType = "STATUS"
)

// Remote type names used in operation signatures.
const (
	SignatureString  = "java.lang.String"
	SignatureBoolean = "java.lang.Boolean"
	SignatureInteger = "java.lang.Integer"
	SignatureMap     = "java.util.Map"
)

// Status values accepted by TypeStatus properties.
const (
	StatusEnabled  = "Enabled"
	StatusDisabled = "Disabled"
)

// Signature returns the remote type name a value of this type is sent as.
func (t ValueType) Signature() string {
	switch t {
	case TypeBoolean:
		return SignatureBoolean
	case TypeInteger:
		return SignatureInteger
	default:
		return SignatureString
	}
}

// Validate checks that t is one of the known value types.
func (t ValueType) Validate() error {
	switch t {
	case TypeString, TypeBoolean, TypeInteger, TypeURL, TypeURI, TypeStatus:
		return nil
	default:
		return fmt.Errorf("unknown value type: %q", string(t))
	}
}

// Convert parses raw into the Go representation of t.
// BOOLEAN yields bool, INTEGER yields int32, everything else yields string.
func (t ValueType) Convert(raw string) (any, error) {
	switch t {
	case TypeString:
		return raw, nil
	case TypeBoolean:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case TypeInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case TypeURL:
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("%q is not an absolute URL", raw)
		}
		return raw, nil
	case TypeURI:
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, err
		}
		return raw, nil
	case TypeStatus:
		if raw != StatusEnabled && raw != StatusDisabled {
			return nil, fmt.Errorf("%q is neither %s nor %s", raw, StatusEnabled, StatusDisabled)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown value type: %q", string(t))
	}
}

// PropertyDescriptor describes one configurable attribute of an entity category.
// Descriptors are values; copies are independent and never mutated.
type PropertyDescriptor struct {
	id           string
	valueType    ValueType
	required     bool
	defaultValue string
	hasDefault   bool
}

// Property creates a descriptor without a default value.
func Property(id string, valueType ValueType, required bool) PropertyDescriptor {
	return PropertyDescriptor{id: id, valueType: valueType, required: required}
}

// PropertyWithDefault creates a descriptor carrying a default value.
func PropertyWithDefault(id string, valueType ValueType, required bool, defaultValue string) PropertyDescriptor {
	return PropertyDescriptor{
		id:           id,
		valueType:    valueType,
		required:     required,
		defaultValue: defaultValue,
		hasDefault:   true,
	}
}

// ID returns the property id.
func (p PropertyDescriptor) ID() string { return p.id }

// Type returns the declared value type.
func (p PropertyDescriptor) Type() ValueType { return p.valueType }

// Required reports whether the property must resolve to a value at build time.
func (p PropertyDescriptor) Required() bool { return p.required }

// Default returns the default value and whether one is declared.
func (p PropertyDescriptor) Default() (string, bool) { return p.defaultValue, p.hasDefault }

// PropertySet is the ordered, immutable set of descriptors of one category.
type PropertySet struct {
	descriptors []PropertyDescriptor
}

// NewPropertySet builds a set, rejecting empty and duplicate ids and unknown types.
func NewPropertySet(descriptors ...PropertyDescriptor) (PropertySet, error) {
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if d.id == "" {
			return PropertySet{}, fmt.Errorf("property id is required")
		}
		if seen[d.id] {
			return PropertySet{}, fmt.Errorf("duplicate property id: %s", d.id)
		}
		if err := d.valueType.Validate(); err != nil {
			return PropertySet{}, fmt.Errorf("property %s: %w", d.id, err)
		}
		seen[d.id] = true
	}

	copied := make([]PropertyDescriptor, len(descriptors))
	copy(copied, descriptors)
	return PropertySet{descriptors: copied}, nil
}

// MustPropertySet is NewPropertySet for static tables; it panics on error.
func MustPropertySet(descriptors ...PropertyDescriptor) PropertySet {
	set, err := NewPropertySet(descriptors...)
	if err != nil {
		panic(err)
	}
	return set
}

// From looks up a descriptor by id.
func (s PropertySet) From(id string) (PropertyDescriptor, error) {
	for _, d := range s.descriptors {
		if d.id == id {
			return d, nil
		}
	}
	return PropertyDescriptor{}, NewNotFoundError(id)
}

// Contains reports whether id is declared.
func (s PropertySet) Contains(id string) bool {
	_, err := s.From(id)
	return err == nil
}

// Len returns the number of descriptors.
func (s PropertySet) Len() int { return len(s.descriptors) }

// All returns a copy of the descriptors in declaration order.
func (s PropertySet) All() []PropertyDescriptor {
	out := make([]PropertyDescriptor, len(s.descriptors))
	copy(out, s.descriptors)
	return out
}
