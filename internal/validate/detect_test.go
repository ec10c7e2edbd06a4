package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDetectOverrideWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.py", "")

	entry, err := DetectEntryCommand(dir, "node dist/index.js --flag")
	require.NoError(t, err)
	assert.Equal(t, "node", entry.Command)
	assert.Equal(t, []string{"dist/index.js", "--flag"}, entry.Args)
}

func TestDetectNodeMain(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"main": "index.js"}`)
	writeFile(t, dir, "index.js", "")

	entry, err := DetectEntryCommand(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "node", entry.Command)
	assert.Equal(t, []string{"index.js"}, entry.Args)
}

func TestDetectNodeMainMissingFileFallsBackToStartScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"main": "dist/index.js", "scripts": {"start": "node dist/index.js"}}`)

	entry, err := DetectEntryCommand(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "npm", entry.Command)
}

func TestDetectPythonConvention(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.py", "")

	entry, err := DetectEntryCommand(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "python3", entry.Command)
	assert.Equal(t, []string{"server.py"}, entry.Args)
}

func TestDetectPythonOrderIsFixed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "")
	writeFile(t, dir, "server.py", "")

	entry, err := DetectEntryCommand(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"server.py"}, entry.Args, "server.py is checked before main.py")
}

func TestDetectGoModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example\n")
	writeFile(t, dir, "main.go", "package main\n")

	entry, err := DetectEntryCommand(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "go", entry.Command)
	assert.Equal(t, []string{"run", "."}, entry.Args)
}

func TestDetectBinary(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "bin", "server")
	require.NoError(t, os.MkdirAll(filepath.Dir(binPath), 0755))
	require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\n"), 0755))

	entry, err := DetectEntryCommand(dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("bin", "server"), entry.Command)
}

func TestDetectNoEntryPoint(t *testing.T) {
	_, err := DetectEntryCommand(t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestEntryCommandString(t *testing.T) {
	assert.Equal(t, "node", EntryCommand{Command: "node"}.String())
	assert.Equal(t, "go run .", EntryCommand{Command: "go", Args: []string{"run", "."}}.String())
}
