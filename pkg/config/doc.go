// Package config loads iamdeploy settings and entity definitions.
//
// Settings come from a YAML, JSON or TOML file and are validated with struct
// tags. Definitions are read from CUE, YAML or JSON documents whose
// "definitions" key holds either a list or a map keyed by definition id:
//
//	definitions:
//	  partner-a:
//	    category: federation-service-provider
//	    name: partnerA
//	    properties:
//	      partnerName: partnerA
//	      metadataURL: https://partner-a.example.com/metadata
//
// CUE documents are unified with the built-in #Definition schema before they
// are decoded. A definition may carry a Starlark script; its exported globals
// are merged over the static properties, and a None value removes one.
//
// Problems found while loading are collected in DefinitionSet.Errors with
// file and line information so every error in a tree is reported at once.
package config
