package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var fileSchema string

var compiledSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("forgy.schema.json", strings.NewReader(fileSchema)); err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	compiledSchema = compiler.MustCompile("forgy.schema.json")
}

// ValidateFileSettings checks the decoded contents of a config file against
// the config file schema.
//
// Settings are round-tripped through JSON first so that YAML and TOML
// decodings reach the validator as plain JSON values.
func ValidateFileSettings(settings map[string]interface{}) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	if err := compiledSchema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			errs := &ValidationErrors{}
			collectSchemaErrors(verr, errs)
			if errs.HasErrors() {
				return errs
			}
		}
		return fmt.Errorf("config file: %w", err)
	}
	return nil
}

// collectSchemaErrors flattens the leaf causes of a schema validation error.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		field = strings.ReplaceAll(field, "/", ".")
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}
