package llm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchemas holds compiled schemas keyed by name and definition digest,
// so a name reused with a changed definition is compiled again.
var compiledSchemas sync.Map // map[string]*jsonschema.Schema

// structuredContent normalizes model output for a schema-bound request. Some
// models wrap JSON in a markdown fence even when asked for raw JSON; the
// fence is removed before validation. Without a schema raw is returned as is.
func structuredContent(schema *Schema, raw json.RawMessage) (json.RawMessage, error) {
	if schema == nil {
		return raw, nil
	}
	body := stripFence(raw)
	if err := validateResponse(schema, body); err != nil {
		return nil, err
	}
	return body, nil
}

// validateResponse checks raw against schema. A nil schema accepts anything.
// Failures are reported as *ErrInvalidResponse carrying the offending body.
func validateResponse(schema *Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("%s: invalid JSON: %w", schema.Name, err)}
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return &ErrInvalidResponse{Content: raw, Err: err}
	}
	if err := compiled.Validate(doc); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("%s: %w", schema.Name, err)}
	}
	return nil
}

func compileSchema(schema *Schema) (*jsonschema.Schema, error) {
	def, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("schema %s: marshal definition: %w", schema.Name, err)
	}
	sum := sha256.Sum256(def)
	key := schema.Name + "@" + hex.EncodeToString(sum[:8])
	if c, ok := compiledSchemas.Load(key); ok {
		return c.(*jsonschema.Schema), nil
	}

	// The compiler wants a decoded document rather than Go maps with typed
	// slices, so round-trip through JSON.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def))
	if err != nil {
		return nil, fmt.Errorf("schema %s: decode definition: %w", schema.Name, err)
	}

	url := "pathwise://schemas/" + key + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema %s: %w", schema.Name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", schema.Name, err)
	}

	actual, _ := compiledSchemas.LoadOrStore(key, compiled)
	return actual.(*jsonschema.Schema), nil
}

// stripFence removes a surrounding ```json ... ``` block, if any.
func stripFence(raw json.RawMessage) json.RawMessage {
	b := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(b, []byte("```")) || !bytes.HasSuffix(b, []byte("```")) || len(b) < 6 {
		return b
	}
	b = b[3 : len(b)-3]
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 && !bytes.ContainsAny(b[:nl], "{[") {
		b = b[nl+1:]
	}
	return bytes.TrimSpace(b)
}
