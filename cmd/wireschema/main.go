package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"planetsync/core"
)

// wireTypes maps each schema file to the wire type it describes
var wireTypes = map[string]any{
	"message.schema.json":      new(core.Message),
	"edit-entry.schema.json":   new(core.EditEntry),
	"log-record.schema.json":   new(core.LogRecord),
	"cursor-entry.schema.json": new(core.CursorEntry),
	"world-info.schema.json":   new(core.WorldInfo),
}

// Writes JSON schemas for the relay wire messages so non-Go clients can
// validate what they send.
func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas into")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	for name, v := range wireTypes {
		if err := writeSchema(filepath.Join(outDir, name), buildSchema(name, v)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func buildSchema(name string, v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{}
	schema := reflector.Reflect(v)
	schema.Title = fmt.Sprintf("planetsync %s (protocol v%d)", strings.TrimSuffix(name, ".schema.json"), core.ProtocolVersion)
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	return os.Rename(tmpPath, outPath)
}
