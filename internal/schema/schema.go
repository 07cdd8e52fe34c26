// Package schema registers and validates the named output schemas that
// AgentConfig.ReturnType refers to. Per the "Dynamic module loading of
// output schemas" design note, schemas are JSON Schema documents compiled
// once at load time with santhosh-tekuri/jsonschema rather than evaluated as
// arbitrary code: an agent's structured output type is declared alongside
// its prompt (a return_type.json file in the agent folder) and looked up by
// name.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry holds compiled JSON Schemas keyed by the return_type identifier
// named in an AgentConfig.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewRegistry constructs an empty schema Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*jsonschema.Schema)}
}

// Compile reads raw JSON Schema bytes from an agent's return_type.json file,
// compiles it, and registers it under name. A compile failure is a
// configuration error and should abort startup.
func (r *Registry) Compile(name string, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("schema: unmarshal return_type %q: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("schema: add resource for return_type %q: %w", name, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("schema: compile return_type %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = compiled
	return nil
}

// Validate checks a decoded final_output document against the named schema.
// If name was never registered, Validate is a no-op (schema-less agents are
// permitted; only return_type entries declared in config.json are checked).
func (r *Registry) Validate(name string, doc any) error {
	r.mu.RLock()
	compiled, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema: final_output does not satisfy return_type %q: %w", name, err)
	}
	return nil
}

// Has reports whether a schema was registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}
