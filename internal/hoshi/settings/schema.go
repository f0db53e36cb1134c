package settings

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Known setting keys.
const (
	KeyLLMModel          = "llm.model"
	KeyLLMMaxTokens      = "llm.max_tokens"
	KeyLLMThinkingBudget = "llm.thinking_budget"
	KeyFlowFallback      = "router.flow_fallback"
	KeyDefaultHint       = "router.default_hint"
)

var (
	// ErrUnknownKey is returned when a key is not part of the settings schema.
	ErrUnknownKey = errors.New("settings: unknown key")
	// ErrInvalidValue is returned when a value does not satisfy the schema.
	ErrInvalidValue = errors.New("settings: invalid value")
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "mem://hoshi/settings.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
	knownKeys   map[string]bool
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("settings: add schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("settings: compile schema: %w", compileErr)
			return
		}

		var doc struct {
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
			compileErr = fmt.Errorf("settings: read schema keys: %w", err)
			return
		}
		knownKeys = make(map[string]bool, len(doc.Properties))
		for k := range doc.Properties {
			knownKeys[k] = true
		}
	})
	return compiled, compileErr
}

// Keys returns the sorted list of keys accepted by the schema.
func Keys() []string {
	if _, err := schema(); err != nil {
		return nil
	}
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks a single key/value pair against the settings schema.
// Values are stored as strings; a value that parses as JSON (true, 1024) is
// validated as that JSON type, anything else as a string.
func Validate(key, value string) error {
	sch, err := schema()
	if err != nil {
		return err
	}
	if !knownKeys[key] {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	doc := map[string]interface{}{key: coerce(value)}
	if err := sch.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s: %s", ErrInvalidValue, key, leafMessage(ve))
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	return nil
}

func coerce(value string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		switch v.(type) {
		case bool, float64:
			return v
		}
	}
	return value
}

// leafMessage returns the most specific validation message.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve.Message
}
