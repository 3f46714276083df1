package router

import (
	"errors"
	"sort"

	"github.com/vibemate/vibemate/internal/config"
)

// ErrNoProviders is returned when resolution is attempted against an empty
// provider set.
var ErrNoProviders = errors.New("no providers configured")

// Resolution is the outcome of routing one request.
type Resolution struct {
	Provider config.Provider
	// FinalModel is the model name to forward: the rule's rewrite when one
	// applied, otherwise the request's own model name (empty if absent).
	FinalModel     string
	ModelRewritten bool
}

// Resolve picks the provider for a request. Model rules are consulted
// before path rules within the request's API group; an unmatched request on
// a vendor group falls through to the generic group; and when no rule
// matches at all, the default provider (or the first one) takes it.
func Resolve(settings config.Settings, group config.APIGroup, requestPath, modelName string) (*Resolution, error) {
	if len(settings.Providers) == 0 {
		return nil, ErrNoProviders
	}

	var rules []config.RoutingRule
	for _, r := range settings.RoutingRules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}

	rule := matchRuleForGroup(rules, group, requestPath, modelName)
	if rule == nil && group != config.GroupGeneric {
		rule = matchRuleForGroup(rules, config.GroupGeneric, requestPath, modelName)
	}

	if rule != nil {
		if provider, ok := settings.FindProvider(rule.ProviderID); ok {
			res := &Resolution{Provider: provider, FinalModel: modelName}
			if rule.ModelRewrite != "" && modelName != "" {
				res.FinalModel = rule.ModelRewrite
				res.ModelRewritten = true
			}
			return res, nil
		}
		// The rule points at a deleted provider; fall through to the
		// default.
	}

	fallback := settings.Providers[0]
	for _, p := range settings.Providers {
		if p.IsDefault {
			fallback = p
			break
		}
	}
	return &Resolution{Provider: fallback, FinalModel: modelName}, nil
}

func matchRuleForGroup(rules []config.RoutingRule, group config.APIGroup, requestPath, modelName string) *config.RoutingRule {
	var modelRules, pathRules []config.RoutingRule
	for _, r := range rules {
		if r.APIGroup != group {
			continue
		}
		switch r.RuleType {
		case config.RuleModel:
			modelRules = append(modelRules, r)
		case config.RulePath:
			pathRules = append(pathRules, r)
		}
	}

	sort.SliceStable(modelRules, func(i, j int) bool {
		return modelRules[i].Priority < modelRules[j].Priority
	})
	if modelName != "" {
		for i := range modelRules {
			if matchGlob(modelRules[i].MatchPattern, modelName) {
				return &modelRules[i]
			}
		}
	}

	// On the generic group the catch-all pattern always sorts last so a
	// broad fallback rule cannot shadow a more specific one.
	sort.SliceStable(pathRules, func(i, j int) bool {
		if group == config.GroupGeneric {
			ci := pathRules[i].MatchPattern == "/api/*"
			cj := pathRules[j].MatchPattern == "/api/*"
			if ci != cj {
				return cj
			}
		}
		return pathRules[i].Priority < pathRules[j].Priority
	})
	for i := range pathRules {
		if matchGlob(pathRules[i].MatchPattern, requestPath) {
			return &pathRules[i]
		}
	}
	return nil
}
