package validate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoEntryPoint is returned when no entry command can be detected from the
// project's contents.
var ErrNoEntryPoint = errors.New("no entry point detected")

// EntryCommand is the OS-level command used to start a candidate server.
type EntryCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func (e EntryCommand) String() string {
	if len(e.Args) == 0 {
		return e.Command
	}
	return e.Command + " " + strings.Join(e.Args, " ")
}

// DetectEntryCommand finds the command that starts a candidate server from
// project conventions. An explicit override wins over any heuristic. The
// heuristics are checked in a fixed order so detection is deterministic:
//
//  1. package.json "main" field, then a "start" script
//  2. conventional Python entry modules (server.py, main.py, app.py, src/ variants)
//  3. a Go module with a root main.go
//  4. an executable under bin/
func DetectEntryCommand(projectPath, override string) (*EntryCommand, error) {
	if override != "" {
		fields := strings.Fields(override)
		return &EntryCommand{Command: fields[0], Args: fields[1:]}, nil
	}

	if entry := detectNode(projectPath); entry != nil {
		return entry, nil
	}
	if entry := detectPython(projectPath); entry != nil {
		return entry, nil
	}
	if entry := detectGo(projectPath); entry != nil {
		return entry, nil
	}
	if entry := detectBinary(projectPath); entry != nil {
		return entry, nil
	}
	return nil, ErrNoEntryPoint
}

type packageManifest struct {
	Main    string            `json:"main"`
	Scripts map[string]string `json:"scripts"`
}

func detectNode(projectPath string) *EntryCommand {
	data, err := os.ReadFile(filepath.Join(projectPath, "package.json"))
	if err != nil {
		return nil
	}
	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}
	if manifest.Main != "" {
		if _, err := os.Stat(filepath.Join(projectPath, manifest.Main)); err == nil {
			return &EntryCommand{Command: "node", Args: []string{manifest.Main}}
		}
	}
	if _, ok := manifest.Scripts["start"]; ok {
		return &EntryCommand{Command: "npm", Args: []string{"start", "--silent"}}
	}
	return nil
}

// pythonEntryFiles are checked in order; the first existing file wins.
var pythonEntryFiles = []string{
	"server.py",
	"main.py",
	"app.py",
	filepath.Join("src", "server.py"),
	filepath.Join("src", "main.py"),
}

func detectPython(projectPath string) *EntryCommand {
	for _, candidate := range pythonEntryFiles {
		if _, err := os.Stat(filepath.Join(projectPath, candidate)); err == nil {
			return &EntryCommand{Command: "python3", Args: []string{candidate}}
		}
	}
	return nil
}

func detectGo(projectPath string) *EntryCommand {
	if _, err := os.Stat(filepath.Join(projectPath, "go.mod")); err != nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(projectPath, "main.go")); err != nil {
		return nil
	}
	return &EntryCommand{Command: "go", Args: []string{"run", "."}}
}

func detectBinary(projectPath string) *EntryCommand {
	entries, err := os.ReadDir(filepath.Join(projectPath, "bin"))
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0111 != 0 {
			return &EntryCommand{Command: filepath.Join("bin", entry.Name())}
		}
	}
	return nil
}
