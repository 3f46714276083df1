package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/vibemate/vibemate/internal/config"
)

// Proxy status used to live as a marker key inside the agent's own config
// file; it is tracked in settings.json now and stale markers are scrubbed
// on every write.
const (
	legacyClaudeProxyMarker = "proxyEnabled"
	legacyCodexProxyMarker  = "proxy_enabled"

	claudeEnvKey     = "env"
	claudeBaseURLKey = "ANTHROPIC_BASE_URL"
	codexEnvKey      = "env"
	codexBaseURLKey  = "OPENAI_BASE_URL"
)

// ErrUnsupportedAgent is returned for agents whose config format the proxy
// wiring does not handle.
type ErrUnsupportedAgent struct{ Type config.AgentType }

func (e ErrUnsupportedAgent) Error() string {
	return fmt.Sprintf("proxy auto-config is not supported for agent type %s", e.Type)
}

// ProxyService rewrites agent config files so their traffic flows through
// the local gateway, and records the toggle in settings.json.
type ProxyService struct {
	store *config.Store

	// configPath is overridable in tests; by default it resolves the
	// agent's config file under the user's home directory.
	configPath func(t config.AgentType) (string, error)
}

// NewProxyService returns the agent proxy wiring backed by the settings
// store.
func NewProxyService(store *config.Store) *ProxyService {
	return &ProxyService{store: store, configPath: defaultConfigPath}
}

func proxySupported(t config.AgentType) bool {
	return t == config.AgentClaudeCode || t == config.AgentCodex
}

func defaultConfigPath(t config.AgentType) (string, error) {
	if !proxySupported(t) {
		return "", ErrUnsupportedAgent{Type: t}
	}
	m := metadataByType[t]
	return expandTilde(m.DefaultConfigFile), nil
}

// IsEnabled reports whether the agent is configured to use the gateway.
func (s *ProxyService) IsEnabled(t config.AgentType) (bool, error) {
	if !proxySupported(t) {
		return false, ErrUnsupportedAgent{Type: t}
	}
	for _, a := range s.store.Snapshot().CodingAgents {
		if a.AgentType == t {
			return a.ProxyEnabled, nil
		}
	}
	return false, nil
}

// SetEnabled points the agent's base URL at the gateway (or removes the
// override) and persists the toggle.
func (s *ProxyService) SetEnabled(t config.AgentType, enabled bool) error {
	if !proxySupported(t) {
		return ErrUnsupportedAgent{Type: t}
	}
	port := s.store.Snapshot().App.Port
	path, err := s.configPath(t)
	if err != nil {
		return err
	}

	switch t {
	case config.AgentClaudeCode:
		err = writeClaudeProxyEnabled(path, enabled, port)
	case config.AgentCodex:
		err = writeCodexProxyEnabled(path, enabled, port)
	}
	if err != nil {
		return err
	}

	return s.store.Update(func(settings *config.Settings) {
		for i := range settings.CodingAgents {
			if settings.CodingAgents[i].AgentType == t {
				settings.CodingAgents[i].ProxyEnabled = enabled
				return
			}
		}
		entry := Probe(t)
		entry.ProxyEnabled = enabled
		settings.CodingAgents = append(settings.CodingAgents, entry)
	})
}

func writeClaudeProxyEnabled(path string, enabled bool, port int) error {
	root, err := readJSONOrDefault(path)
	if err != nil {
		return err
	}
	delete(root, legacyClaudeProxyMarker)

	if enabled {
		env, ok := root[claudeEnvKey].(map[string]any)
		if !ok {
			env = map[string]any{}
		}
		env[claudeBaseURLKey] = fmt.Sprintf("http://localhost:%d/api/anthropic", port)
		root[claudeEnvKey] = env
	} else {
		if env, ok := root[claudeEnvKey].(map[string]any); ok {
			delete(env, claudeBaseURLKey)
			if len(env) == 0 {
				delete(root, claudeEnvKey)
			}
		} else if _, present := root[claudeEnvKey]; present {
			delete(root, claudeEnvKey)
		}
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("encode claude config: %w", err)
	}
	return writeConfigFile(path, append(data, '\n'))
}

func writeCodexProxyEnabled(path string, enabled bool, port int) error {
	root, err := readTOMLOrDefault(path)
	if err != nil {
		return err
	}
	delete(root, legacyCodexProxyMarker)

	if enabled {
		env, ok := root[codexEnvKey].(map[string]any)
		if !ok {
			env = map[string]any{}
		}
		env[codexBaseURLKey] = fmt.Sprintf("http://localhost:%d/api/openai/v1", port)
		root[codexEnvKey] = env
	} else {
		if env, ok := root[codexEnvKey].(map[string]any); ok {
			delete(env, codexBaseURLKey)
			if len(env) == 0 {
				delete(root, codexEnvKey)
			}
		} else if _, present := root[codexEnvKey]; present {
			delete(root, codexEnvKey)
		}
	}

	data, err := toml.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode codex config: %w", err)
	}
	return writeConfigFile(path, data)
}

func readJSONOrDefault(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("agent config root must be a JSON object: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}
	return root, nil
}

func readTOMLOrDefault(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	var root map[string]any
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("agent config root must be a TOML table: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}
	return root, nil
}

func writeConfigFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create agent config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write agent config: %w", err)
	}
	return nil
}
