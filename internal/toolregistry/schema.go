package toolregistry

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateInputSchema compiles a tool's input schema at index time so a
// malformed schema surfaces as a build warning immediately, rather than
// as a confusing validation failure the first time a caller submits
// input against it. A nil schema (a tool with no declared input) is not
// an error.
func validateInputSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	c := jsonschema.NewCompiler()
	const resourceName = "tool-input-schema.json"
	if err := c.AddResource(resourceName, schema); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	if _, err := c.Compile(resourceName); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	return nil
}
