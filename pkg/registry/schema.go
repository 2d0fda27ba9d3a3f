// pkg/registry/schema.go
package registry

// ModelRegistry enumerates the models the chat pipeline fans out over.
// Adding a model is a configuration change, not a code change; fan-out order
// is registry order.
type ModelRegistry struct {
	Version     string      `json:"version"`
	LastUpdated string      `json:"lastUpdated"`
	Models      []ModelSpec `json:"models"`
}

// ModelSpec describes one target model.
type ModelSpec struct {
	Name         string `json:"name"`
	Deployment   string `json:"deployment"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Timeout      int    `json:"timeout,omitempty"` // milliseconds, per-call
}

// registrySchema validates a registry document on load.
const registrySchema = `{
  "type": "object",
  "required": ["version", "models"],
  "properties": {
    "version": {"type": "string"},
    "lastUpdated": {"type": "string"},
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "deployment"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "deployment": {"type": "string", "minLength": 1},
          "systemPrompt": {"type": "string"},
          "timeout": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`
