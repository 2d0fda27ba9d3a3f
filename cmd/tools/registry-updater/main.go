// cmd/tools/registry-updater/main.go

// registry-updater maintains configs/models.json without hand-editing.
// Adding or retuning a model is a config deploy, so the tool validates the
// document the same way the worker does before writing it back.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"memberflow/pkg/registry"
)

var registryPath string

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	// Add command flags
	nameAdd := addCmd.String("name", "", "Model name (e.g., gpt-4)")
	deployment := addCmd.String("deployment", "", "Azure OpenAI deployment name")
	systemPrompt := addCmd.String("systemPrompt", "", "System prompt override")
	timeout := addCmd.Int("timeout", 0, "Per-call timeout in milliseconds")
	addCmd.StringVar(&registryPath, "path", "configs/models.json", "Path to registry file")

	// Update command flags
	nameUpdate := updateCmd.String("name", "", "Model name to update")
	field := updateCmd.String("field", "", "Field to update (deployment, systemPrompt, timeout)")
	value := updateCmd.String("value", "", "New value for the field")
	updateCmd.StringVar(&registryPath, "path", "configs/models.json", "Path to registry file")

	// Validate command flags
	validateCmd.StringVar(&registryPath, "path", "configs/models.json", "Path to registry file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *nameAdd == "" || *deployment == "" {
			fmt.Println("Error: name and deployment are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		model := registry.ModelSpec{
			Name:         *nameAdd,
			Deployment:   *deployment,
			SystemPrompt: *systemPrompt,
			Timeout:      *timeout,
		}
		if err := addModel(&model); err != nil {
			fmt.Printf("Error adding model: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added model: %s\n", *nameAdd)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *nameUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: name, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateModel(*nameUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating model: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated model %s, field %s to %s\n", *nameUpdate, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if _, err := registry.LoadRegistry(registryPath); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Registry validation passed.")

	case "help":
		fallthrough
	default:
		help()
	}
}

func addModel(model *registry.ModelSpec) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		// First model creates the registry.
		if os.IsNotExist(err) {
			reg = &registry.ModelRegistry{
				Version: "1.0.0",
				Models:  []registry.ModelSpec{},
			}
		} else {
			return fmt.Errorf("failed to load registry: %w", err)
		}
	}

	for _, existing := range reg.Models {
		if existing.Name == model.Name {
			return fmt.Errorf("model %s already exists", model.Name)
		}
	}

	reg.Models = append(reg.Models, *model)
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	return saveRegistry(reg, registryPath)
}

func updateModel(name, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	found := false
	for i := range reg.Models {
		if reg.Models[i].Name == name {
			found = true
			switch field {
			case "deployment":
				reg.Models[i].Deployment = value
			case "systemPrompt":
				reg.Models[i].SystemPrompt = value
			case "timeout":
				timeout, err := strconv.Atoi(value)
				if err != nil {
					return fmt.Errorf("invalid timeout value: %w", err)
				}
				reg.Models[i].Timeout = timeout
			default:
				return fmt.Errorf("unknown field: %s", field)
			}
			break
		}
	}

	if !found {
		return fmt.Errorf("model %s not found", name)
	}

	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return saveRegistry(reg, registryPath)
}

// saveRegistry round-trips through ParseRegistry so an invalid document never
// reaches disk.
func saveRegistry(reg *registry.ModelRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if _, err := registry.ParseRegistry(data); err != nil {
		return fmt.Errorf("refusing to write invalid registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func help() {
	fmt.Println(`Usage: registry-updater <command> [flags]

Commands:
  add       Add a model to the registry
  update    Update a field of an existing model
  validate  Validate the registry file
  help      Show this help

Examples:
  registry-updater add -name gpt-4 -deployment gpt-4-deployment -timeout 60000
  registry-updater update -name gpt-4 -field timeout -value 90000
  registry-updater validate -path configs/models.json`)
}
