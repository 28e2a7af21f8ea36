// Package policy gates dispatches with Open Policy Agent.
//
// Every enabled policy is a Rego module defining a deny set. An element of
// the set is either a message string or an object:
//
//	deny contains {"message": msg, "severity": "warning"} if { ... }
//
// Violations with severity error or critical make the decision a denial;
// info and warning violations are reported as warnings. In enforcing mode
// Engine.Check turns a denial into a POLICY_DENIED engine error, in advisory
// mode it only returns the decision.
//
// Three built-in policies are always available: entity-naming,
// delete-protection and secret-properties. User policies are read from .rego
// files (named after the file) or JSON documents, and can be reloaded while
// running with Engine.Watch.
//
// The input document is:
//
//	{
//	  "entity": {"id", "category", "flavor", "segment", "name", "labels", "properties"},
//	  "verb": "create",
//	  "operation": "addSAML20SPFederationPartner",
//	  "target": "...",
//	  "dry_run": false,
//	  "timestamp": "..."
//	}
package policy
