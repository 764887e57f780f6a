// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

package seed

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/fortauth/fort/pkg/errutil"
)

// SchemaID is the $id of the generated seed schema.
const SchemaID = "https://fortauth.dev/schemas/seed.schema.json"

const schemaResource = "seed.schema.json"

var compiledSchema = sync.OnceValues(compileSchema)

// GenerateSchema reflects File into a JSON Schema document.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&File{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Fort seed file"
	schema.Description = "Abilities, roles and grants loaded by `fort seed`"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SEED_SCHEMA_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema checks YAML data against the seed schema. Unknown keys are
// rejected.
func ValidateSchema(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return oops.Code("SEED_INVALID").Wrapf(errutil.ErrPolicyViolation, "seed file is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("SEED_PARSE_FAILED").Wrap(err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("SEED_PARSE_FAILED").Wrap(err)
	}
	instance, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return oops.Code("SEED_PARSE_FAILED").Wrap(err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(instance); err != nil {
		return oops.Code("SEED_INVALID").
			With("detail", err.Error()).
			Wrapf(errutil.ErrPolicyViolation, "seed file does not match schema")
	}
	return nil
}

func compileSchema() (*jschema.Schema, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, oops.Code("SEED_SCHEMA_FAILED").Wrap(err)
	}
	c := jschema.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		return nil, oops.Code("SEED_SCHEMA_FAILED").Wrap(err)
	}
	sch, err := c.Compile(schemaResource)
	if err != nil {
		return nil, oops.Code("SEED_SCHEMA_FAILED").Wrap(err)
	}
	return sch, nil
}
