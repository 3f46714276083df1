package router

import (
	"errors"
	"testing"

	"github.com/vibemate/vibemate/internal/config"
)

func newTestRuleService(t *testing.T) *Service {
	t.Helper()
	store := config.NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("init config store: %v", err)
	}
	return NewService(store)
}

func TestCreateRuleAssignsPriorityPerBucket(t *testing.T) {
	s := newTestRuleService(t)

	r1, err := s.CreateRule(CreateRuleInput{
		RuleType: config.RuleModel, APIGroup: config.GroupGeneric,
		ProviderID: "p", MatchPattern: "gpt-*", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r1.Priority != 1 {
		t.Fatalf("first priority = %d, want 1", r1.Priority)
	}
	if r1.ID == "" {
		t.Fatal("rule id not assigned")
	}

	r2, err := s.CreateRule(CreateRuleInput{
		RuleType: config.RuleModel, APIGroup: config.GroupGeneric,
		ProviderID: "p", MatchPattern: "claude-*", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r2.Priority != 2 {
		t.Fatalf("second priority = %d, want 2", r2.Priority)
	}

	// A different (group, type) bucket starts over at 1.
	r3, err := s.CreateRule(CreateRuleInput{
		RuleType: config.RulePath, APIGroup: config.GroupOpenAI,
		ProviderID: "p", MatchPattern: "/api/openai/*", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r3.Priority != 1 {
		t.Fatalf("other bucket priority = %d, want 1", r3.Priority)
	}
}

func TestCreateRuleDuplicateReturnsExisting(t *testing.T) {
	s := newTestRuleService(t)

	input := CreateRuleInput{
		RuleType: config.RuleModel, APIGroup: config.GroupGeneric,
		ProviderID: "p", MatchPattern: "gpt-*", Enabled: true,
	}
	first, err := s.CreateRule(input)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	second, err := s.CreateRule(input)
	if err != nil {
		t.Fatalf("CreateRule duplicate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate got new id %s, want %s", second.ID, first.ID)
	}

	rules, err := s.ListRules()
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("rules = %d, want 1", len(rules))
	}
}

func TestCreateRuleRejectsVendorPrefixOnGeneric(t *testing.T) {
	s := newTestRuleService(t)

	for _, pattern := range []string{"/api/openai/*", "/api/anthropic/v1/*", ""} {
		_, err := s.CreateRule(CreateRuleInput{
			RuleType: config.RulePath, APIGroup: config.GroupGeneric,
			ProviderID: "p", MatchPattern: pattern, Enabled: true,
		})
		var invalid ErrInvalidPattern
		if !errors.As(err, &invalid) {
			t.Fatalf("pattern %q: error = %v, want ErrInvalidPattern", pattern, err)
		}
	}

	// The same pattern is fine on its own vendor group.
	if _, err := s.CreateRule(CreateRuleInput{
		RuleType: config.RulePath, APIGroup: config.GroupOpenAI,
		ProviderID: "p", MatchPattern: "/api/openai/*", Enabled: true,
	}); err != nil {
		t.Fatalf("CreateRule on vendor group: %v", err)
	}
}

func TestListRulesDedupesAndSorts(t *testing.T) {
	store := config.NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("init config store: %v", err)
	}
	if err := store.Update(func(settings *config.Settings) {
		settings.RoutingRules = []config.RoutingRule{
			{ID: "g-model", RuleType: config.RuleModel, APIGroup: config.GroupGeneric, MatchPattern: "*", Priority: 1},
			{ID: "o-path-2", RuleType: config.RulePath, APIGroup: config.GroupOpenAI, MatchPattern: "/api/openai/b*", Priority: 2},
			{ID: "o-path-1", RuleType: config.RulePath, APIGroup: config.GroupOpenAI, MatchPattern: "/api/openai/a*", Priority: 1},
			{ID: "dup", RuleType: config.RulePath, APIGroup: config.GroupOpenAI, MatchPattern: "/api/openai/a*", Priority: 9},
			{ID: "a-path", RuleType: config.RulePath, APIGroup: config.GroupAnthropic, MatchPattern: "/api/anthropic/*", Priority: 1},
		}
	}); err != nil {
		t.Fatalf("seed rules: %v", err)
	}

	s := NewService(store)
	rules, err := s.ListRules()
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}

	gotIDs := make([]string, len(rules))
	for i, r := range rules {
		gotIDs[i] = r.ID
	}
	wantIDs := []string{"o-path-1", "o-path-2", "a-path", "g-model"}
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("rules = %v, want %v", gotIDs, wantIDs)
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("rules = %v, want %v", gotIDs, wantIDs)
		}
	}

	// The deduped list must be persisted.
	if got := len(store.Snapshot().RoutingRules); got != 4 {
		t.Fatalf("persisted rules = %d, want 4", got)
	}
}

func TestUpdateRule(t *testing.T) {
	s := newTestRuleService(t)

	rule, err := s.CreateRule(CreateRuleInput{
		RuleType: config.RuleModel, APIGroup: config.GroupGeneric,
		ProviderID: "p", MatchPattern: "gpt-*", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	pattern := "claude-*"
	rewrite := "deepseek-chat"
	enabled := false
	updated, err := s.UpdateRule(rule.ID, UpdateRuleInput{
		MatchPattern: &pattern,
		ModelRewrite: &rewrite,
		Enabled:      &enabled,
	})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if updated.MatchPattern != "claude-*" || updated.ModelRewrite != "deepseek-chat" || updated.Enabled {
		t.Fatalf("updated rule = %+v", updated)
	}

	// Switching only the type must be validated against the rule's
	// existing group and pattern.
	bad := "/api/openai/*"
	if _, err := s.UpdateRule(rule.ID, UpdateRuleInput{
		RuleType:     ptr(config.RulePath),
		MatchPattern: &bad,
	}); err == nil {
		t.Fatal("expected invalid pattern error")
	}

	var notFound ErrRuleNotFound
	if _, err := s.UpdateRule("missing", UpdateRuleInput{}); !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ErrRuleNotFound", err)
	}
}

func TestDeleteRule(t *testing.T) {
	s := newTestRuleService(t)

	rule, err := s.CreateRule(CreateRuleInput{
		RuleType: config.RuleModel, APIGroup: config.GroupGeneric,
		ProviderID: "p", MatchPattern: "gpt-*", Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := s.DeleteRule(rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	var notFound ErrRuleNotFound
	if err := s.DeleteRule(rule.ID); !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ErrRuleNotFound", err)
	}
}

func TestReorderRules(t *testing.T) {
	s := newTestRuleService(t)

	var ids []string
	for _, pattern := range []string{"a*", "b*", "c*"} {
		rule, err := s.CreateRule(CreateRuleInput{
			RuleType: config.RuleModel, APIGroup: config.GroupGeneric,
			ProviderID: "p", MatchPattern: pattern, Enabled: true,
		})
		if err != nil {
			t.Fatalf("CreateRule: %v", err)
		}
		ids = append(ids, rule.ID)
	}

	if err := s.ReorderRules([]string{ids[2], ids[0], ids[1], "unknown"}); err != nil {
		t.Fatalf("ReorderRules: %v", err)
	}
	for i, want := range map[int]string{1: ids[2], 2: ids[0], 3: ids[1]} {
		rule, err := s.GetRule(want)
		if err != nil {
			t.Fatalf("GetRule: %v", err)
		}
		if rule.Priority != i {
			t.Fatalf("rule %s priority = %d, want %d", want, rule.Priority, i)
		}
	}
}

func ptr[T any](v T) *T { return &v }
