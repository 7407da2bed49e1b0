package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"palm-pilots/server/internal/net/proto"
)

type target struct {
	file  string
	title string
	desc  string
	value any
}

var targets = []target{
	{
		file:  "command.schema.json",
		title: "Palm Pilots Command Message",
		desc:  "Message posted to /set-command and carried by command streams",
		value: new(proto.CommandMessage),
	},
	{
		file:  "hello.schema.json",
		title: "Palm Pilots Viewer Hello",
		desc:  "First frame sent to a viewer on /ws",
		value: new(proto.HelloMessage),
	},
	{
		file:  "snapshot.schema.json",
		title: "Palm Pilots Snapshot Frame",
		desc:  "Per-tick simulation snapshot streamed to viewers",
		value: new(proto.SnapshotMessage),
	},
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas into")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	for _, t := range targets {
		schema := buildSchema(t)
		if err := writeSchema(filepath.Join(outDir, t.file), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", t.file, err)
			os.Exit(1)
		}
	}
}

func buildSchema(t target) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(t.value)
	schema.Title = t.title
	schema.Description = t.desc
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

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
