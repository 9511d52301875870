// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package sod

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/loanguard/loanguard/internal/authz/store"
	"github.com/loanguard/loanguard/internal/authz/types"
)

// RuleFile is the on-disk format for declaring SoD rules. Operators
// keep these under version control and load them at deploy time.
type RuleFile struct {
	TenantID string           `json:"tenant_id" yaml:"tenant_id" jsonschema:"required,minLength=1"`
	Rules    []RuleDefinition `json:"rules" yaml:"rules" jsonschema:"required,minItems=1"`
}

// RuleDefinition declares one SoD rule.
type RuleDefinition struct {
	Name                   string   `json:"name" yaml:"name" jsonschema:"required,minLength=1"`
	Description            string   `json:"description,omitempty" yaml:"description,omitempty"`
	ConflictingPermissions []string `json:"conflicting_permissions" yaml:"conflicting_permissions" jsonschema:"required,minItems=2"`
	Enforcement            string   `json:"enforcement" yaml:"enforcement" jsonschema:"required,enum=strict,enum=warning"`
}

// schemaCache holds the compiled schema to avoid recompilation.
var schemaCache *jschema.Schema

// SchemaID is the $id embedded in generated schemas.
const SchemaID = "https://loanguard.dev/schemas/sod-rules.schema.json"

// GenerateSchema generates a JSON Schema for SoD rule files.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&RuleFile{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Loanguard SoD Rules"
	schema.Description = "Schema for segregation-of-duties rule files"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Wrapf(err, "marshaling schema")
	}
	return data, nil
}

// ParseRuleFile parses and validates a YAML rule file. Validation runs
// in two layers: the JSON Schema for structure, then the same semantic
// checks the store applies at write time.
func ParseRuleFile(data []byte) (*RuleFile, error) {
	if len(data) == 0 {
		return nil, oops.Code("SOD_FILE_INVALID").New("rule file is empty")
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, oops.Code("SOD_FILE_INVALID").Wrapf(err, "invalid YAML")
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(jsonTypes(raw)); err != nil {
		return nil, oops.Code("SOD_FILE_INVALID").Wrapf(err, "schema validation failed")
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, oops.Code("SOD_FILE_INVALID").Wrapf(err, "invalid YAML")
	}

	for i, def := range file.Rules {
		rule := def.toStore(file.TenantID)
		if err := store.ValidateSoDRule(&rule); err != nil {
			return nil, oops.With("rule_index", i).With("rule_name", def.Name).Wrap(err)
		}
	}
	return &file, nil
}

// Apply upserts the file's rules into the store, matching existing
// rules by name within the tenant. Returns the number of rules created.
func Apply(ctx context.Context, s store.Store, file *RuleFile) (int, error) {
	existing, err := s.ActiveSoDRules(ctx, file.TenantID)
	if err != nil {
		return 0, oops.With("tenant_id", file.TenantID).Wrapf(err, "loading existing rules")
	}
	byName := make(map[string]store.SoDRule, len(existing))
	for _, rule := range existing {
		byName[rule.Name] = rule
	}

	created := 0
	for _, def := range file.Rules {
		rule := def.toStore(file.TenantID)
		if current, ok := byName[def.Name]; ok {
			rule.ID = current.ID
			if err := s.UpdateSoDRule(ctx, &rule); err != nil {
				return created, oops.With("rule_name", def.Name).Wrap(err)
			}
			continue
		}
		if err := s.CreateSoDRule(ctx, &rule); err != nil {
			return created, oops.With("rule_name", def.Name).Wrap(err)
		}
		created++
	}
	return created, nil
}

func (d RuleDefinition) toStore(tenantID string) store.SoDRule {
	return store.SoDRule{
		TenantID:               tenantID,
		Name:                   d.Name,
		Description:            d.Description,
		ConflictingPermissions: d.ConflictingPermissions,
		Enforcement:            types.EnforcementLevel(d.Enforcement),
		Active:                 true,
	}
}

func compiledSchema() (*jschema.Schema, error) {
	if schemaCache != nil {
		return schemaCache, nil
	}

	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.Wrapf(err, "parsing schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, oops.Wrapf(err, "adding schema resource")
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, oops.Wrapf(err, "compiling schema")
	}

	schemaCache = sch
	return sch, nil
}

// jsonTypes converts YAML-parsed data to JSON-compatible types for the
// validator.
func jsonTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = jsonTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = jsonTypes(item)
		}
		return result
	default:
		return val
	}
}
