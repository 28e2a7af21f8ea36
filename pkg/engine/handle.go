package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRootAddress is the well-known object name of the configuration management root.
const DefaultRootAddress = "com.oracle.iam:Name=IAMConfiguration,Type=" + ComponentRoot

// HandleKind distinguishes object-name handles from category-path handles.
type HandleKind string

const (
	HandleObjectName HandleKind = "object-name"
	HandleCategory   HandleKind = "category"
)

// KeyProperty is one key=value pair of an object name.
type KeyProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Handle is an immutable reference to a remote management target.
type Handle struct {
	kind     HandleKind
	address  string
	domain   string
	keys     []KeyProperty
	segments []string
}

// Kind returns the handle kind.
func (h Handle) Kind() HandleKind { return h.kind }

// Address returns the address the handle was parsed from.
func (h Handle) Address() string { return h.address }

// Domain returns the object-name domain; empty for category handles.
func (h Handle) Domain() string { return h.domain }

// Keys returns a copy of the object-name key properties in address order.
func (h Handle) Keys() []KeyProperty {
	out := make([]KeyProperty, len(h.keys))
	copy(out, h.keys)
	return out
}

// Key returns the value of an object-name key property.
func (h Handle) Key(name string) (string, bool) {
	for _, kp := range h.keys {
		if kp.Key == name {
			return kp.Value, true
		}
	}
	return "", false
}

// Segments returns a copy of the category path segments.
func (h Handle) Segments() []string {
	out := make([]string, len(h.segments))
	copy(out, h.segments)
	return out
}

// IsZero reports whether h was never resolved.
func (h Handle) IsZero() bool { return h.address == "" }

// Canonical returns the address with object-name keys sorted, for comparisons.
func (h Handle) Canonical() string {
	if h.kind != HandleObjectName {
		return h.address
	}
	keys := h.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })
	pairs := make([]string, len(keys))
	for i, kp := range keys {
		pairs[i] = kp.Key + "=" + kp.Value
	}
	return h.domain + ":" + strings.Join(pairs, ",")
}

// String implements fmt.Stringer.
func (h Handle) String() string { return h.address }

// ParseHandle builds a handle from an object name ("domain:key=value,...")
// or a category path ("/DeployedComponent/...").
func ParseHandle(address string) (Handle, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return Handle{}, fmt.Errorf("address is empty")
	}
	if strings.HasPrefix(trimmed, "/") {
		return parseCategoryPath(trimmed)
	}
	return parseObjectName(trimmed)
}

func parseCategoryPath(address string) (Handle, error) {
	segments := strings.Split(strings.TrimPrefix(address, "/"), "/")
	for i, s := range segments {
		if s == "" {
			return Handle{}, fmt.Errorf("path segment %d is empty", i)
		}
	}
	return Handle{
		kind:     HandleCategory,
		address:  address,
		segments: segments,
	}, nil
}

func parseObjectName(address string) (Handle, error) {
	domain, rest, ok := strings.Cut(address, ":")
	if !ok {
		return Handle{}, fmt.Errorf("missing domain separator ':'")
	}
	if domain == "" {
		return Handle{}, fmt.Errorf("domain is empty")
	}
	if strings.ContainsAny(domain, "*?") {
		return Handle{}, fmt.Errorf("domain %q contains a wildcard", domain)
	}
	if rest == "" {
		return Handle{}, fmt.Errorf("no key properties")
	}

	seen := make(map[string]bool)
	var keys []KeyProperty
	for _, pair := range strings.Split(rest, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Handle{}, fmt.Errorf("key property %q has no '='", pair)
		}
		if key == "" {
			return Handle{}, fmt.Errorf("key property %q has an empty key", pair)
		}
		if strings.ContainsAny(key+value, "*?:") {
			return Handle{}, fmt.Errorf("key property %q contains an illegal character", pair)
		}
		if seen[key] {
			return Handle{}, fmt.Errorf("duplicate key %q", key)
		}
		seen[key] = true
		keys = append(keys, KeyProperty{Key: key, Value: value})
	}

	return Handle{
		kind:    HandleObjectName,
		address: address,
		domain:  domain,
		keys:    keys,
	}, nil
}
