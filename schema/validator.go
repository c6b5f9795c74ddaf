// Package schema validates record payloads against the JSON Schema of their
// action before a handler is invoked.
package schema

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/graniteshield/outbox/event"
)

//go:embed schemas/*.json
var builtin embed.FS

// ErrInvalidPayload wraps every validation failure.
var ErrInvalidPayload = errors.New("outbox: payload validation failed")

// Validator validates payloads against per-action JSON Schemas.
type Validator struct {
	mu      sync.RWMutex
	sources map[event.Action][]byte
	cache   map[event.Action]*jsonschema.Schema
}

// NewValidator creates a validator loaded with the built-in schemas.
func NewValidator() *Validator {
	v := &Validator{
		sources: make(map[event.Action][]byte),
		cache:   make(map[event.Action]*jsonschema.Schema),
	}
	for _, a := range event.Actions() {
		raw, err := builtin.ReadFile("schemas/" + a.String() + ".json")
		if err != nil {
			continue
		}
		v.sources[a] = raw
	}
	return v
}

// Register replaces the schema for an action. The schema is compiled
// immediately so a bad document fails here rather than at dispatch.
func (v *Validator) Register(a event.Action, schemaJSON []byte) error {
	compiled, err := compile(a, schemaJSON)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.sources[a] = schemaJSON
	v.cache[a] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks payload against the schema for a. Actions without a
// schema accept any JSON object.
func (v *Validator) Validate(a event.Action, payload []byte) error {
	compiled, err := v.schemaFor(a)
	if err != nil {
		return err
	}
	if compiled == nil {
		return nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// schemaFor returns the compiled schema for a, using the cache.
func (v *Validator) schemaFor(a event.Action) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if cached, ok := v.cache[a]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	src, ok := v.sources[a]
	v.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	compiled, err := compile(a, src)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[a] = compiled
	v.mu.Unlock()
	return compiled, nil
}

func compile(a event.Action, src []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", a, err)
	}

	url := "outbox://schema/" + a.String() + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema: add %s: %w", a, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", a, err)
	}
	return compiled, nil
}
