package provider

import (
	"errors"
	"testing"

	"github.com/vibemate/vibemate/internal/config"
)

func newTestService(t *testing.T) (*Service, *config.Store) {
	t.Helper()
	store := config.NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("init config store: %v", err)
	}
	return NewService(store), store
}

func TestCreateFirstProviderBecomesDefault(t *testing.T) {
	s, _ := newTestService(t)

	p, err := s.Create(CreateInput{Name: "DeepSeek", Kind: config.ProviderOpenAI, APIBaseURL: "https://api.deepseek.com/"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !p.IsDefault {
		t.Fatal("first provider should be default")
	}
	if p.APIBaseURL != "https://api.deepseek.com" {
		t.Fatalf("base url = %q, want trailing slash trimmed", p.APIBaseURL)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("provider not fully populated: %+v", p)
	}

	second, err := s.Create(CreateInput{Name: "Kimi", Kind: config.ProviderOpenAI, APIBaseURL: "https://api.moonshot.cn"})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if second.IsDefault {
		t.Fatal("second provider should not be default")
	}
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestService(t)

	var invalid ErrInvalidInput
	if _, err := s.Create(CreateInput{Name: "  ", APIBaseURL: "https://x.example"}); !errors.As(err, &invalid) {
		t.Fatalf("missing name error = %v", err)
	}
	if _, err := s.Create(CreateInput{Name: "X", APIBaseURL: ""}); !errors.As(err, &invalid) {
		t.Fatalf("missing base url error = %v", err)
	}
}

func TestCreateWithDefaultFlagDemotesOthers(t *testing.T) {
	s, _ := newTestService(t)

	first, err := s.Create(CreateInput{Name: "A", APIBaseURL: "https://a.example"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := s.Create(CreateInput{Name: "B", APIBaseURL: "https://b.example", IsDefault: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !second.IsDefault {
		t.Fatal("second provider should be default")
	}
	got, err := s.Get(first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsDefault {
		t.Fatal("first provider should have lost the default flag")
	}
}

func TestUpdateProvider(t *testing.T) {
	s, _ := newTestService(t)

	p, err := s.Create(CreateInput{Name: "A", APIBaseURL: "https://a.example", APIKey: "k1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	name := "A renamed"
	base := "https://a2.example/"
	updated, err := s.Update(p.ID, UpdateInput{Name: &name, APIBaseURL: &base})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "A renamed" || updated.APIBaseURL != "https://a2.example" {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.APIKey != "k1" {
		t.Fatalf("api key changed unexpectedly: %q", updated.APIKey)
	}

	var notFound ErrNotFound
	if _, err := s.Update("missing", UpdateInput{Name: &name}); !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteProviderCascadesRules(t *testing.T) {
	s, store := newTestService(t)

	p, err := s.Create(CreateInput{Name: "A", APIBaseURL: "https://a.example"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other, err := s.Create(CreateInput{Name: "B", APIBaseURL: "https://b.example"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Update(func(settings *config.Settings) {
		settings.RoutingRules = []config.RoutingRule{
			{ID: "r1", RuleType: config.RuleModel, APIGroup: config.GroupGeneric, MatchPattern: "*", ProviderID: p.ID, Enabled: true},
			{ID: "r2", RuleType: config.RuleModel, APIGroup: config.GroupGeneric, MatchPattern: "gpt-*", ProviderID: other.ID, Enabled: true},
		}
	}); err != nil {
		t.Fatalf("seed rules: %v", err)
	}

	if err := s.Delete(p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	settings := store.Snapshot()
	if len(settings.Providers) != 1 || settings.Providers[0].ID != other.ID {
		t.Fatalf("providers = %+v", settings.Providers)
	}
	if len(settings.RoutingRules) != 1 || settings.RoutingRules[0].ID != "r2" {
		t.Fatalf("rules = %+v", settings.RoutingRules)
	}

	var notFound ErrNotFound
	if err := s.Delete(p.ID); !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestSetDefaultIsExclusive(t *testing.T) {
	s, _ := newTestService(t)

	if _, err := s.Create(CreateInput{Name: "A", APIBaseURL: "https://a.example"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(CreateInput{Name: "B", APIBaseURL: "https://b.example"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.SetDefault(b.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	defaults := 0
	for _, p := range s.List() {
		if p.IsDefault {
			defaults++
			if p.ID != b.ID {
				t.Fatalf("default is %s, want %s", p.ID, b.ID)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("defaults = %d, want 1", defaults)
	}

	var notFound ErrNotFound
	if err := s.SetDefault("missing"); !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
