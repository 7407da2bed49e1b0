package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSchemaRequiresCommand(t *testing.T) {
	schema := buildSchema(targets[0])
	data, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command"`)
	assert.Contains(t, string(data), "Palm Pilots Command Message")
}

func TestWriteSchemaReplacesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "snapshot.schema.json")
	require.NoError(t, writeSchema(out, buildSchema(targets[2])))
	require.NoError(t, writeSchema(out, buildSchema(targets[2])))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Palm Pilots Snapshot Frame", decoded["title"])
	_, err = os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
