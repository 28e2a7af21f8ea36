package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/iamdeploy/pkg/catalog"
	"github.com/openfroyo/iamdeploy/pkg/engine"
)

func (d *Definition) applyDefaults() {
	if d.Name == "" {
		d.Name = d.Category
	}
	if d.Verb == "" {
		d.Verb = string(engine.VerbCreate)
	}
	d.Verb = strings.ToLower(d.Verb)
	if d.ID == "" {
		d.ID = d.Category + "/" + d.Name
	}
}

// Matches reports whether the definition carries every selector label.
func (d Definition) Matches(selector map[string]string) bool {
	for k, v := range selector {
		if d.Labels[k] != v {
			return false
		}
	}
	return true
}

// ParsedVerb returns the definition's verb, defaulting to create.
func (d Definition) ParsedVerb() (engine.Verb, error) {
	if d.Verb == "" {
		return engine.VerbCreate, nil
	}
	return engine.ParseVerb(d.Verb)
}

// RawProperties returns the property values as the raw strings the engine converts.
// Null values are left out.
func (d Definition) RawProperties() (map[string]string, error) {
	out := make(map[string]string, len(d.Properties))
	for id, v := range d.Properties {
		raw, ok, err := rawString(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", id, err)
		}
		if ok {
			out[id] = raw
		}
	}
	return out, nil
}

// ToEntity builds the configuration entity the definition describes.
func (d Definition) ToEntity() (*engine.ConfigurationEntity, error) {
	name := d.Name
	if name == "" {
		name = d.Category
	}

	entity, err := catalog.NewEntity(d.Category, engine.WithName(name))
	if err != nil {
		return nil, err
	}

	raw, err := d.RawProperties()
	if err != nil {
		return nil, engine.NewInvalidArgumentError(err.Error(), d.ID)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := entity.SetProperty(id, raw[id]); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

func rawString(v any) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return val, true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case int:
		return strconv.Itoa(val), true, nil
	case int64:
		return strconv.FormatInt(val, 10), true, nil
	case uint64:
		return strconv.FormatUint(val, 10), true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case fmt.Stringer:
		return val.String(), true, nil
	default:
		return "", false, fmt.Errorf("unsupported value type %T", v)
	}
}
