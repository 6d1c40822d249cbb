package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// definition returns the object schema for name, whether the reflector
// put it under definitions, $defs or at the top level
func definition(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	for _, key := range []string{"definitions", "$defs"} {
		if defs, ok := doc[key].(map[string]any); ok {
			if def, ok := defs[name].(map[string]any); ok {
				return def
			}
		}
	}
	if _, ok := doc["properties"]; ok {
		return doc
	}
	t.Fatalf("no schema for %s in %v", name, doc)
	return nil
}

func TestWireSchemas(t *testing.T) {
	tests := []struct {
		file     string
		def      string
		props    []string
		required []string
	}{
		{
			file:     "message.schema.json",
			def:      "Message",
			props:    []string{"ver", "type", "world", "peer", "from", "total", "record", "records", "presence", "cursors", "error"},
			required: []string{"ver", "type"},
		},
		{
			file:     "edit-entry.schema.json",
			def:      "EditEntry",
			props:    []string{"uv", "strength"},
			required: []string{"uv", "strength"},
		},
		{
			file:     "cursor-entry.schema.json",
			def:      "CursorEntry",
			props:    []string{"position", "normal", "color"},
			required: []string{"position", "normal", "color"},
		},
	}

	dir := t.TempDir()
	for _, tc := range tests {
		t.Run(tc.def, func(t *testing.T) {
			v, ok := wireTypes[tc.file]
			if !ok {
				t.Fatalf("%s is not generated", tc.file)
			}
			path := filepath.Join(dir, tc.file)
			if err := writeSchema(path, buildSchema(tc.file, v)); err != nil {
				t.Fatal(err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err != nil {
				t.Fatalf("schema is not JSON: %v", err)
			}

			def := definition(t, doc, tc.def)
			props, _ := def["properties"].(map[string]any)
			for _, p := range tc.props {
				if _, ok := props[p]; !ok {
					t.Errorf("missing property %q", p)
				}
			}
			if len(props) != len(tc.props) {
				t.Errorf("properties: got %d, want %d", len(props), len(tc.props))
			}

			required := map[string]bool{}
			list, _ := def["required"].([]any)
			for _, r := range list {
				required[r.(string)] = true
			}
			for _, r := range tc.required {
				if !required[r] {
					t.Errorf("%q should be required", r)
				}
			}
		})
	}
}
