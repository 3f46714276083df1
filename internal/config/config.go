// Package config provides configuration management for the Vibe Mate core.
// It defines the settings.json schema shared by the gateway and the
// credential lifecycle manager, and a store with snapshot/update semantics
// backed by a single JSON file under the user's home directory.
package config

import (
	"time"
)

// ProviderKind determines how the gateway authenticates against an upstream
// model provider.
type ProviderKind string

const (
	ProviderOpenAI     ProviderKind = "openai"
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderGoogle     ProviderKind = "google"
	ProviderOpenRouter ProviderKind = "openrouter"
	ProviderCustom     ProviderKind = "custom"
)

// Provider is an upstream target the gateway can forward requests to.
type Provider struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Kind       ProviderKind `json:"kind"`
	APIBaseURL string       `json:"apiBaseUrl"`
	APIKey     string       `json:"apiKey"`
	IsDefault  bool         `json:"isDefault"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// RuleType selects what part of the request a routing rule matches against.
type RuleType string

const (
	RulePath  RuleType = "path"
	RuleModel RuleType = "model"
)

// APIGroup classifies which vendor-shaped protocol an inbound request uses.
type APIGroup string

const (
	GroupOpenAI    APIGroup = "openai"
	GroupAnthropic APIGroup = "anthropic"
	GroupGeneric   APIGroup = "generic"
)

// RoutingRule maps inbound requests to a provider, optionally rewriting the
// requested model name. Lower priority values are evaluated first.
type RoutingRule struct {
	ID           string    `json:"id"`
	RuleType     RuleType  `json:"ruleType"`
	APIGroup     APIGroup  `json:"apiGroup"`
	ProviderID   string    `json:"providerId"`
	MatchPattern string    `json:"matchPattern"`
	ModelRewrite string    `json:"modelRewrite,omitempty"`
	Priority     int       `json:"priority"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AgentType identifies one of the supported coding agents.
type AgentType string

const (
	AgentCodex       AgentType = "codex"
	AgentClaudeCode  AgentType = "claude-code"
	AgentGeminiCLI   AgentType = "gemini-cli"
	AgentAntigravity AgentType = "antigravity"
)

// AllAgentTypes lists the supported agents in display order.
func AllAgentTypes() []AgentType {
	return []AgentType{AgentClaudeCode, AgentCodex, AgentGeminiCLI, AgentAntigravity}
}

// CodingAgent records the persisted state of a discovered coding agent.
type CodingAgent struct {
	AgentType    AgentType `json:"agentType"`
	Name         string    `json:"name"`
	Version      string    `json:"version,omitempty"`
	Installed    bool      `json:"installed"`
	ProxyEnabled bool      `json:"proxyEnabled"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	// Port is the localhost port the gateway listens on.
	Port int `json:"port"`
	// EnableProxy routes all outbound traffic (vendor OAuth and gateway
	// forwarding alike) through ProxyURL when set.
	EnableProxy bool     `json:"enableProxy"`
	ProxyURL    string   `json:"proxyUrl,omitempty"`
	NoProxy     []string `json:"noProxy,omitempty"`
	// Debug enables debug-level logging.
	Debug bool `json:"debug"`
	// LoggingToFile writes logs to rotating files instead of stderr.
	LoggingToFile bool      `json:"loggingToFile"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DefaultPort is the gateway's default listen port.
const DefaultPort = 12345

// Settings is the root of settings.json.
type Settings struct {
	App          AppConfig     `json:"app"`
	Providers    []Provider    `json:"providers"`
	RoutingRules []RoutingRule `json:"routingRules"`
	CodingAgents []CodingAgent `json:"codingAgents"`
}

// DefaultSettings returns the settings used when no file exists yet.
func DefaultSettings() Settings {
	return Settings{
		App: AppConfig{
			Port:      DefaultPort,
			UpdatedAt: time.Now(),
		},
	}
}

// Clone returns a deep copy safe for the caller to hold across updates.
func (s Settings) Clone() Settings {
	out := s
	out.App.NoProxy = append([]string(nil), s.App.NoProxy...)
	out.Providers = append([]Provider(nil), s.Providers...)
	out.RoutingRules = append([]RoutingRule(nil), s.RoutingRules...)
	out.CodingAgents = append([]CodingAgent(nil), s.CodingAgents...)
	return out
}

// FindProvider returns the provider with the given id, if present.
func (s Settings) FindProvider(id string) (Provider, bool) {
	for _, p := range s.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}
