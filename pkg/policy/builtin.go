package policy

import (
	"time"
)

// Built-in policy names.
const (
	EntityNaming     = "entity-naming"
	DeleteProtection = "delete-protection"
	SecretProperties = "secret-properties"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		entityNamingPolicy(),
		deleteProtectionPolicy(),
		secretPropertiesPolicy(),
	}
}

// BuiltinNames returns the names of the built-in policies.
func BuiltinNames() []string {
	builtins := GetBuiltinPolicies()
	names := make([]string, len(builtins))
	for i, p := range builtins {
		names[i] = p.Name
	}
	return names
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		Rego:        rego,
		UpdatedAt:   time.Now(),
	}
}

// entityNamingPolicy keeps entity names usable as WLST name arguments.
func entityNamingPolicy() Policy {
	return builtin(EntityNaming,
		"Entity names must be 1-64 characters of letters, digits, dot, underscore or hyphen, starting with a letter or digit",
		SeverityError, []string{"naming"}, `package iamdeploy.policies.naming

import rego.v1

deny contains violation if {
	input.entity.name == ""
	violation := {
		"message": sprintf("%s entity must have a name", [input.entity.category]),
	}
}

deny contains violation if {
	name := input.entity.name
	name != ""
	not regex.match("^[A-Za-z0-9][A-Za-z0-9._-]*$", name)
	violation := {
		"message": sprintf("entity name '%s' may only contain letters, digits, '.', '_' and '-' and must start with a letter or digit", [name]),
	}
}

deny contains violation if {
	name := input.entity.name
	count(name) > 64
	violation := {
		"message": sprintf("entity name '%s' must not exceed 64 characters", [name]),
	}
}
`)
}

// deleteProtectionPolicy blocks DELETE on entities labelled protected, and
// warns on DELETE in production.
func deleteProtectionPolicy() Policy {
	return builtin(DeleteProtection,
		"Entities labelled protected=true cannot be deleted",
		SeverityCritical, []string{"safety"}, `package iamdeploy.policies.deletion

import rego.v1

deny contains violation if {
	input.verb == "delete"
	input.entity.labels.protected == "true"
	violation := {
		"message": sprintf("%s '%s' is protected and cannot be deleted", [input.entity.category, input.entity.name]),
	}
}

deny contains violation if {
	input.verb == "delete"
	input.entity.labels.env == "production"
	not input.entity.labels.protected
	violation := {
		"message": sprintf("deleting %s '%s' in production", [input.entity.category, input.entity.name]),
		"severity": "warning",
	}
}
`)
}

// secretPropertiesPolicy rejects weak literal secrets.
func secretPropertiesPolicy() Policy {
	return builtin(SecretProperties,
		"Password and secret properties must be at least 12 characters and differ from the entity name",
		SeverityError, []string{"security"}, `package iamdeploy.policies.secrets

import rego.v1

secret_property(id) if regex.match("(?i)(password|secret)", id)

deny contains violation if {
	some id, value in input.entity.properties
	secret_property(id)
	is_string(value)
	count(value) < 12
	violation := {
		"message": sprintf("property %s must be at least 12 characters", [id]),
	}
}

deny contains violation if {
	some id, value in input.entity.properties
	secret_property(id)
	is_string(value)
	lower(value) == lower(input.entity.name)
	violation := {
		"message": sprintf("property %s must not equal the entity name", [id]),
	}
}
`)
}
