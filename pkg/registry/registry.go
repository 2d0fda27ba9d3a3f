// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// LoadRegistry reads and validates the model registry file.
func LoadRegistry(path string) (*ModelRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegistry(data)
}

// ParseRegistry validates raw registry JSON against the registry schema and
// decodes it. Duplicate model names are rejected: the response selector keys
// its breakdown by model name.
func ParseRegistry(data []byte) (*ModelRegistry, error) {
	schemaLoader := gojsonschema.NewStringLoader(registrySchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("registry validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("registry validation failed: %v", errs)
	}

	var reg ModelRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(reg.Models))
	for _, m := range reg.Models {
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate model name %q in registry", m.Name)
		}
		seen[m.Name] = true
	}

	return &reg, nil
}
