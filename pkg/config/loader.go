package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// definitionExtensions are the file types a definition directory may contain.
var definitionExtensions = map[string]bool{
	".cue":  true,
	".yaml": true,
	".yml":  true,
	".json": true,
}

// DefinitionLoader reads entity definitions from CUE, YAML and JSON files.
type DefinitionLoader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewDefinitionLoader creates a new definition loader.
func NewDefinitionLoader() *DefinitionLoader {
	ctx := cuecontext.New()
	return &DefinitionLoader{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		starlark:  NewStarlarkEvaluator(10 * time.Second),
		validator: validator.New(),
	}
}

// Load reads definitions from files and directories. Problems found in the
// documents are reported in DefinitionSet.Errors; the returned error is
// reserved for unreadable sources.
func (dl *DefinitionLoader) Load(ctx context.Context, sources []string) (*DefinitionSet, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			found, err := dl.LoadFromDirectory(source)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		} else {
			files = append(files, source)
		}
	}

	set := &DefinitionSet{SourceFiles: files}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		defs, errs := dl.parse(file, filepath.Ext(file), content)
		set.Definitions = append(set.Definitions, defs...)
		set.Errors = append(set.Errors, errs...)
	}

	dl.finish(ctx, set)
	return set, nil
}

// LoadInline parses definitions from content in the given format (cue, yaml or json).
func (dl *DefinitionLoader) LoadInline(ctx context.Context, format string, content []byte) (*DefinitionSet, error) {
	ext := "." + strings.TrimPrefix(strings.ToLower(format), ".")
	if !definitionExtensions[ext] {
		return nil, fmt.Errorf("unsupported definition format: %s", format)
	}

	defs, errs := dl.parse("inline", ext, content)
	set := &DefinitionSet{
		Definitions: defs,
		SourceFiles: []string{"inline"},
		Errors:      errs,
	}
	dl.finish(ctx, set)
	return set, nil
}

// LoadFromDirectory lists definition files under dir in lexical order.
func (dl *DefinitionLoader) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && definitionExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

func (dl *DefinitionLoader) parse(file, ext string, content []byte) ([]Definition, []ValidationError) {
	switch strings.ToLower(ext) {
	case ".cue":
		return dl.parseCUE(file, content)
	case ".yaml", ".yml", ".json":
		return dl.parseYAML(file, content)
	default:
		return nil, []ValidationError{{File: file, Message: "unsupported file type", Severity: "error"}}
	}
}

// parseYAML reads a document whose "definitions" key holds a list or a map keyed by id.
func (dl *DefinitionLoader) parseYAML(file string, content []byte) ([]Definition, []ValidationError) {
	var doc struct {
		Definitions yaml.Node `yaml:"definitions"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, []ValidationError{{File: file, Message: err.Error(), Severity: "error"}}
	}

	var defs []Definition
	var errs []ValidationError

	node := &doc.Definitions
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		for i, item := range node.Content {
			var def Definition
			if err := item.Decode(&def); err != nil {
				errs = append(errs, ValidationError{
					File: file, Line: item.Line, Column: item.Column,
					Path:     fmt.Sprintf("definitions[%d]", i),
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			def.Source = file
			defs = append(defs, def)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, item := node.Content[i], node.Content[i+1]
			var def Definition
			if err := item.Decode(&def); err != nil {
				errs = append(errs, ValidationError{
					File: file, Line: item.Line, Column: item.Column,
					Path:     "definitions." + key.Value,
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			if def.ID == "" {
				def.ID = key.Value
			}
			def.Source = file
			defs = append(defs, def)
		}
	default:
		errs = append(errs, ValidationError{
			File: file, Line: node.Line, Column: node.Column,
			Path:     "definitions",
			Message:  "definitions must be a list or a map",
			Severity: "error",
		})
	}

	return defs, errs
}

// parseCUE compiles a CUE file and checks each definition against the #Definition schema.
func (dl *DefinitionLoader) parseCUE(file string, content []byte) ([]Definition, []ValidationError) {
	val := dl.ctx.CompileBytes(content, cue.Filename(file))
	if err := val.Err(); err != nil {
		return nil, dl.convertCUEErrors(err)
	}

	defsVal := val.LookupPath(cue.ParsePath("definitions"))
	if !defsVal.Exists() {
		return nil, nil
	}

	schema, _ := dl.schemas.GetSchema("definition")

	var defs []Definition
	var errs []ValidationError

	extract := func(key, path string, v cue.Value) {
		if err := dl.schemas.ValidateValue(schema, v); err != nil {
			for _, ve := range dl.convertCUEErrors(err) {
				ve.Path = path
				errs = append(errs, ve)
			}
			return
		}

		var def Definition
		if err := v.Decode(&def); err != nil {
			errs = append(errs, ValidationError{File: file, Path: path, Message: err.Error(), Severity: "error"})
			return
		}
		if def.ID == "" {
			def.ID = key
		}
		def.Source = file
		defs = append(defs, def)
	}

	switch defsVal.Kind() {
	case cue.StructKind:
		iter, err := defsVal.Fields()
		if err != nil {
			return nil, dl.convertCUEErrors(err)
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			extract(key, "definitions."+key, iter.Value())
		}
	case cue.ListKind:
		list, err := defsVal.List()
		if err != nil {
			return nil, dl.convertCUEErrors(err)
		}
		for idx := 0; list.Next(); idx++ {
			extract("", fmt.Sprintf("definitions[%d]", idx), list.Value())
		}
	default:
		errs = append(errs, ValidationError{
			File: file, Path: "definitions",
			Message:  "definitions must be a list or a struct",
			Severity: "error",
		})
	}

	return defs, errs
}

// finish applies defaults, validates tags, runs scripts and checks references.
func (dl *DefinitionLoader) finish(ctx context.Context, set *DefinitionSet) {
	seen := make(map[string]bool)
	valid := set.Definitions[:0]

	for _, def := range set.Definitions {
		def.applyDefaults()

		if err := dl.validator.Struct(def); err != nil {
			set.Errors = append(set.Errors, ValidationError{
				File: def.Source, Path: def.ID,
				Message:  fmt.Sprintf("validation failed: %v", err),
				Severity: "error",
			})
			continue
		}

		if seen[def.ID] {
			set.Errors = append(set.Errors, ValidationError{
				File: def.Source, Path: def.ID,
				Message:  "duplicate definition id",
				Severity: "error",
			})
			continue
		}
		seen[def.ID] = true

		if def.Script != "" {
			if err := dl.runScript(ctx, &def); err != nil {
				set.Errors = append(set.Errors, ValidationError{
					File: def.Source, Path: def.ID + ".script",
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
		}

		valid = append(valid, def)
	}
	set.Definitions = valid

	for _, def := range set.Definitions {
		for _, dep := range def.DependsOn {
			if !seen[dep] {
				set.Errors = append(set.Errors, ValidationError{
					File: def.Source, Path: def.ID + ".depends_on",
					Message:  fmt.Sprintf("unknown definition %q", dep),
					Severity: "error",
				})
			}
		}
	}

	set.LoadedAt = time.Now()
}

// runScript evaluates the definition's script and merges its exported
// globals into the properties. Script values override static ones; a None
// value removes the property.
func (dl *DefinitionLoader) runScript(ctx context.Context, def *Definition) error {
	properties := make(map[string]interface{}, len(def.Properties))
	for k, v := range def.Properties {
		properties[k] = normalizeScalar(v)
	}
	labels := make(map[string]interface{}, len(def.Labels))
	for k, v := range def.Labels {
		labels[k] = v
	}

	result, err := dl.starlark.Evaluate(ctx, def.Script, map[string]interface{}{
		"name":       def.Name,
		"category":   def.Category,
		"labels":     labels,
		"properties": properties,
	})
	if err != nil {
		return err
	}

	if def.Properties == nil {
		def.Properties = make(map[string]any)
	}
	for k, v := range result.Output {
		if v == nil {
			delete(def.Properties, k)
			continue
		}
		def.Properties[k] = v
	}
	return nil
}

// normalizeScalar widens YAML integer types to what the evaluator accepts.
func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return v
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (dl *DefinitionLoader) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range cueerrors.Errors(err) {
		var file string
		var line, column int

		if pos := cueerrors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// Err joins the set's errors, or returns nil when there are none.
func (s *DefinitionSet) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(s.Errors))
	for i, ve := range s.Errors {
		errs[i] = errors.New(ve.String())
	}
	return errors.Join(errs...)
}

// Lookup returns the definition with id.
func (s *DefinitionSet) Lookup(id string) (Definition, bool) {
	for _, def := range s.Definitions {
		if def.ID == id {
			return def, true
		}
	}
	return Definition{}, false
}

// Select returns the definitions whose labels match every selector pair.
func (s *DefinitionSet) Select(selector map[string]string) []Definition {
	if len(selector) == 0 {
		return s.Definitions
	}

	var out []Definition
	for _, def := range s.Definitions {
		if def.Matches(selector) {
			out = append(out, def)
		}
	}
	return out
}

// ParseSelector parses "key=value,key=value" into a selector map.
func ParseSelector(expr string) (map[string]string, error) {
	selector := make(map[string]string)
	if strings.TrimSpace(expr) == "" {
		return selector, nil
	}

	for _, pair := range strings.Split(expr, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid selector term %q", pair)
		}
		selector[k] = v
	}
	return selector, nil
}
