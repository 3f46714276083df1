// Package provider manages the gateway's upstream provider registry.
package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibemate/vibemate/internal/config"
)

// ErrNotFound wraps an unknown provider id.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("provider not found: %s", e.ID) }

// ErrInvalidInput reports a rejected create or update.
type ErrInvalidInput struct{ Reason string }

func (e ErrInvalidInput) Error() string { return "invalid provider: " + e.Reason }

// Service manages providers in the settings store.
type Service struct {
	store *config.Store
}

// NewService returns a provider manager backed by the settings store.
func NewService(store *config.Store) *Service {
	return &Service{store: store}
}

// CreateInput is the caller-supplied part of a new provider.
type CreateInput struct {
	Name       string
	Kind       config.ProviderKind
	APIBaseURL string
	APIKey     string
	IsDefault  bool
}

// UpdateInput carries partial updates; nil fields are left unchanged.
type UpdateInput struct {
	Name       *string
	APIBaseURL *string
	APIKey     *string
}

// List returns all providers in stored order.
func (s *Service) List() []config.Provider {
	return s.store.Snapshot().Providers
}

// Get returns one provider by id.
func (s *Service) Get(id string) (config.Provider, error) {
	if p, ok := s.store.Snapshot().FindProvider(id); ok {
		return p, nil
	}
	return config.Provider{}, ErrNotFound{ID: id}
}

// Create adds a provider. The first provider created becomes the default.
func (s *Service) Create(input CreateInput) (config.Provider, error) {
	if strings.TrimSpace(input.Name) == "" {
		return config.Provider{}, ErrInvalidInput{Reason: "name is required"}
	}
	if strings.TrimSpace(input.APIBaseURL) == "" {
		return config.Provider{}, ErrInvalidInput{Reason: "api base url is required"}
	}

	now := time.Now()
	p := config.Provider{
		ID:         uuid.NewString(),
		Name:       input.Name,
		Kind:       input.Kind,
		APIBaseURL: strings.TrimRight(input.APIBaseURL, "/"),
		APIKey:     input.APIKey,
		IsDefault:  input.IsDefault,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Update(func(settings *config.Settings) {
		if len(settings.Providers) == 0 {
			p.IsDefault = true
		}
		if p.IsDefault {
			for i := range settings.Providers {
				settings.Providers[i].IsDefault = false
			}
		}
		settings.Providers = append(settings.Providers, p)
	}); err != nil {
		return config.Provider{}, err
	}
	return s.Get(p.ID)
}

// Update applies a partial update to an existing provider.
func (s *Service) Update(id string, input UpdateInput) (config.Provider, error) {
	if _, err := s.Get(id); err != nil {
		return config.Provider{}, err
	}
	if err := s.store.Update(func(settings *config.Settings) {
		for i := range settings.Providers {
			if settings.Providers[i].ID != id {
				continue
			}
			p := &settings.Providers[i]
			if input.Name != nil {
				p.Name = *input.Name
			}
			if input.APIBaseURL != nil {
				p.APIBaseURL = strings.TrimRight(*input.APIBaseURL, "/")
			}
			if input.APIKey != nil {
				p.APIKey = *input.APIKey
			}
			p.UpdatedAt = time.Now()
			return
		}
	}); err != nil {
		return config.Provider{}, err
	}
	return s.Get(id)
}

// Delete removes a provider and any routing rules that reference it.
func (s *Service) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.store.Update(func(settings *config.Settings) {
		providers := settings.Providers[:0]
		for _, p := range settings.Providers {
			if p.ID != id {
				providers = append(providers, p)
			}
		}
		settings.Providers = providers

		rules := settings.RoutingRules[:0]
		for _, r := range settings.RoutingRules {
			if r.ProviderID != id {
				rules = append(rules, r)
			}
		}
		settings.RoutingRules = rules
	})
}

// SetDefault marks one provider as the routing fallback, clearing the flag
// on every other provider.
func (s *Service) SetDefault(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.store.Update(func(settings *config.Settings) {
		for i := range settings.Providers {
			settings.Providers[i].IsDefault = settings.Providers[i].ID == id
			if settings.Providers[i].IsDefault {
				settings.Providers[i].UpdatedAt = time.Now()
			}
		}
	})
}
