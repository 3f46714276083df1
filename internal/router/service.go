package router

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibemate/vibemate/internal/config"
)

// ErrRuleNotFound wraps an unknown rule id.
type ErrRuleNotFound struct{ ID string }

func (e ErrRuleNotFound) Error() string { return fmt.Sprintf("rule not found: %s", e.ID) }

// ErrInvalidPattern rejects patterns that would be unreachable or would
// hijack the vendor-specific gateway prefixes.
type ErrInvalidPattern struct{ Pattern string }

func (e ErrInvalidPattern) Error() string { return fmt.Sprintf("invalid pattern: %s", e.Pattern) }

// Service manages routing rules in the settings store.
type Service struct {
	store *config.Store
}

// NewService returns a rule manager backed by the settings store.
func NewService(store *config.Store) *Service {
	return &Service{store: store}
}

// CreateRuleInput is the caller-supplied part of a new rule.
type CreateRuleInput struct {
	RuleType     config.RuleType
	APIGroup     config.APIGroup
	ProviderID   string
	MatchPattern string
	ModelRewrite string
	Enabled      bool
}

// UpdateRuleInput carries partial updates; nil fields are left unchanged.
type UpdateRuleInput struct {
	RuleType     *config.RuleType
	APIGroup     *config.APIGroup
	ProviderID   *string
	MatchPattern *string
	ModelRewrite *string
	Enabled      *bool
}

func validateGroupPattern(group config.APIGroup, ruleType config.RuleType, pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern{Pattern: pattern}
	}
	// A generic path rule matching the dedicated vendor prefixes would
	// never see traffic; those paths dispatch to their own groups first.
	if ruleType == config.RulePath && group == config.GroupGeneric {
		if strings.HasPrefix(pattern, "/api/openai") || strings.HasPrefix(pattern, "/api/anthropic") {
			return ErrInvalidPattern{Pattern: pattern}
		}
	}
	return nil
}

func groupOrder(g config.APIGroup) int {
	switch g {
	case config.GroupOpenAI:
		return 0
	case config.GroupAnthropic:
		return 1
	default:
		return 2
	}
}

func typeOrder(t config.RuleType) int {
	if t == config.RulePath {
		return 0
	}
	return 1
}

// ListRules returns all rules sorted for display. Duplicate rules (same
// group, type, and pattern) are removed and the cleaned list persisted so
// future reads stay deduped.
func (s *Service) ListRules() ([]config.RoutingRule, error) {
	rules := s.store.Snapshot().RoutingRules
	deduped, changed := dedupeRules(rules)
	if changed {
		if err := s.store.Update(func(settings *config.Settings) {
			settings.RoutingRules = deduped
		}); err != nil {
			return nil, err
		}
	}
	sorted := append([]config.RoutingRule(nil), deduped...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if groupOrder(a.APIGroup) != groupOrder(b.APIGroup) {
			return groupOrder(a.APIGroup) < groupOrder(b.APIGroup)
		}
		if typeOrder(a.RuleType) != typeOrder(b.RuleType) {
			return typeOrder(a.RuleType) < typeOrder(b.RuleType)
		}
		return a.Priority < b.Priority
	})
	return sorted, nil
}

func dedupeRules(rules []config.RoutingRule) ([]config.RoutingRule, bool) {
	type key struct {
		group   config.APIGroup
		rtype   config.RuleType
		pattern string
	}
	seen := make(map[key]bool, len(rules))
	deduped := make([]config.RoutingRule, 0, len(rules))
	for _, r := range rules {
		k := key{r.APIGroup, r.RuleType, r.MatchPattern}
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, r)
	}
	return deduped, len(deduped) != len(rules)
}

// GetRule returns one rule by id.
func (s *Service) GetRule(id string) (config.RoutingRule, error) {
	for _, r := range s.store.Snapshot().RoutingRules {
		if r.ID == id {
			return r, nil
		}
	}
	return config.RoutingRule{}, ErrRuleNotFound{ID: id}
}

// CreateRule adds a rule. Creating an exact duplicate of an existing rule
// returns the existing rule instead of adding another copy. The new rule's
// priority is one past the highest in its (group, type) bucket.
func (s *Service) CreateRule(input CreateRuleInput) (config.RoutingRule, error) {
	if err := validateGroupPattern(input.APIGroup, input.RuleType, input.MatchPattern); err != nil {
		return config.RoutingRule{}, err
	}

	settings := s.store.Snapshot()
	for _, r := range settings.RoutingRules {
		if r.APIGroup == input.APIGroup && r.RuleType == input.RuleType && r.MatchPattern == input.MatchPattern {
			return r, nil
		}
	}

	priority := 0
	for _, r := range settings.RoutingRules {
		if r.APIGroup == input.APIGroup && r.RuleType == input.RuleType && r.Priority > priority {
			priority = r.Priority
		}
	}

	now := time.Now()
	rule := config.RoutingRule{
		ID:           uuid.NewString(),
		RuleType:     input.RuleType,
		APIGroup:     input.APIGroup,
		ProviderID:   input.ProviderID,
		MatchPattern: input.MatchPattern,
		ModelRewrite: input.ModelRewrite,
		Priority:     priority + 1,
		Enabled:      input.Enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Update(func(settings *config.Settings) {
		settings.RoutingRules = append(settings.RoutingRules, rule)
	}); err != nil {
		return config.RoutingRule{}, err
	}
	return rule, nil
}

// UpdateRule applies a partial update to an existing rule.
func (s *Service) UpdateRule(id string, input UpdateRuleInput) (config.RoutingRule, error) {
	existing, err := s.GetRule(id)
	if err != nil {
		return config.RoutingRule{}, err
	}

	nextGroup := existing.APIGroup
	if input.APIGroup != nil {
		nextGroup = *input.APIGroup
	}
	nextType := existing.RuleType
	if input.RuleType != nil {
		nextType = *input.RuleType
	}
	nextPattern := existing.MatchPattern
	if input.MatchPattern != nil {
		nextPattern = *input.MatchPattern
	}
	if err := validateGroupPattern(nextGroup, nextType, nextPattern); err != nil {
		return config.RoutingRule{}, err
	}

	if err := s.store.Update(func(settings *config.Settings) {
		for i := range settings.RoutingRules {
			if settings.RoutingRules[i].ID != id {
				continue
			}
			r := &settings.RoutingRules[i]
			r.APIGroup = nextGroup
			r.RuleType = nextType
			r.MatchPattern = nextPattern
			if input.ProviderID != nil {
				r.ProviderID = *input.ProviderID
			}
			if input.ModelRewrite != nil {
				r.ModelRewrite = *input.ModelRewrite
			}
			if input.Enabled != nil {
				r.Enabled = *input.Enabled
			}
			r.UpdatedAt = time.Now()
			return
		}
	}); err != nil {
		return config.RoutingRule{}, err
	}
	return s.GetRule(id)
}

// DeleteRule removes a rule by id.
func (s *Service) DeleteRule(id string) error {
	if _, err := s.GetRule(id); err != nil {
		return err
	}
	return s.store.Update(func(settings *config.Settings) {
		kept := settings.RoutingRules[:0]
		for _, r := range settings.RoutingRules {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		settings.RoutingRules = kept
	})
}

// ReorderRules assigns priorities following the order of the given ids.
// Unknown ids are skipped.
func (s *Service) ReorderRules(ids []string) error {
	return s.store.Update(func(settings *config.Settings) {
		for index, id := range ids {
			for i := range settings.RoutingRules {
				if settings.RoutingRules[i].ID == id {
					settings.RoutingRules[i].Priority = index + 1
					settings.RoutingRules[i].UpdatedAt = time.Now()
					break
				}
			}
		}
	})
}
