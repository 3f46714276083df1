// Package agent discovers installed coding agents and wires their local
// configuration files to point at the gateway.
package agent

import (
	"os"
	"path/filepath"

	"github.com/vibemate/vibemate/internal/config"
)

// Metadata describes how to find an agent on the local machine.
type Metadata struct {
	AgentType         config.AgentType
	Name              string
	Binary            string
	DefaultConfigFile string
	DefaultAuthFile   string
}

var metadataByType = map[config.AgentType]Metadata{
	config.AgentClaudeCode: {
		AgentType:         config.AgentClaudeCode,
		Name:              "Claude Code",
		Binary:            "claude",
		DefaultConfigFile: "~/.claude/settings.json",
		DefaultAuthFile:   "~/.claude/credentials.json",
	},
	config.AgentCodex: {
		AgentType:         config.AgentCodex,
		Name:              "Codex",
		Binary:            "codex",
		DefaultConfigFile: "~/.codex/config.toml",
		DefaultAuthFile:   "~/.codex/auth.json",
	},
	config.AgentGeminiCLI: {
		AgentType:         config.AgentGeminiCLI,
		Name:              "Gemini CLI",
		Binary:            "gemini",
		DefaultConfigFile: "~/.gemini/settings.json",
		DefaultAuthFile:   "~/.gemini/credentials.json",
	},
	config.AgentAntigravity: {
		AgentType: config.AgentAntigravity,
		Name:      "Antigravity",
		Binary:    "antigravity",
	},
}

// MetadataFor returns the metadata for an agent type.
func MetadataFor(t config.AgentType) (Metadata, bool) {
	m, ok := metadataByType[t]
	return m, ok
}

// expandTilde resolves a leading "~" against the user's home directory.
func expandTilde(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
