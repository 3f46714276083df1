package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vibemate/vibemate/internal/config"
	"github.com/vibemate/vibemate/internal/util"
)

// Service is the account-facing surface: login flows, quota reports, and
// the accounts listing. Adapters are rebuilt per call so proxy settings
// changes apply without restart.
type Service struct {
	cfg    *config.Store
	tokens TokenStore
	flows  *Orchestrator

	// adapters and newClient are overridable in tests.
	adapters  func(t config.AgentType) (Adapter, error)
	newClient func(app config.AppConfig) *http.Client
}

// NewService builds the auth service on top of the settings store. Tokens
// live under the settings directory's auth/ subdirectory.
func NewService(cfg *config.Store, tokens TokenStore) *Service {
	s := &Service{
		cfg:       cfg,
		tokens:    tokens,
		newClient: util.NewHTTPClient,
	}
	s.adapters = s.defaultAdapter
	s.flows = NewOrchestrator(func(t config.AgentType) (Adapter, error) { return s.adapters(t) }, tokens)
	return s
}

func (s *Service) defaultAdapter(t config.AgentType) (Adapter, error) {
	return NewAdapter(t, s.newClient(s.cfg.Snapshot().App))
}

// StartAuth begins a browser login for the agent.
func (s *Service) StartAuth(agentType config.AgentType) (*FlowStart, error) {
	return s.flows.StartAuth(agentType)
}

// CompleteAuth finishes a login started with StartAuth.
func (s *Service) CompleteAuth(ctx context.Context, flowID string) (*Account, error) {
	return s.flows.CompleteAuth(ctx, flowID)
}

// CancelAuth aborts any pending login flow.
func (s *Service) CancelAuth() {
	s.flows.Cancel()
}

// GetQuota returns the normalized usage report for the agent's account,
// refreshing the credential first when it is stale and retrying exactly
// once after an unauthorized response.
func (s *Service) GetQuota(ctx context.Context, agentType config.AgentType) (*Quota, error) {
	adapter, err := s.adapters(agentType)
	if err != nil {
		return nil, err
	}
	cred, err := s.tokens.Load(agentType)
	if err != nil {
		return nil, err
	}

	if adapter.IsStale(cred, time.Now()) {
		if cred, err = s.refreshAndPersist(ctx, adapter, cred); err != nil {
			return nil, err
		}
	}

	quota, err := adapter.FetchQuota(ctx, cred)
	if err == nil {
		return quota, nil
	}
	if !errors.Is(err, ErrUnauthorized) {
		return nil, err
	}

	log.Infof("%s quota fetch unauthorized, refreshing and retrying", agentType)
	if cred, err = s.refreshAndPersist(ctx, adapter, cred); err != nil {
		return nil, err
	}
	return adapter.FetchQuota(ctx, cred)
}

func (s *Service) refreshAndPersist(ctx context.Context, adapter Adapter, cred Credential) (Credential, error) {
	next, err := adapter.Refresh(ctx, cred)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh %s credential: %w", cred.Type, err)
	}
	if err := s.tokens.Save(next); err != nil {
		return Credential{}, fmt.Errorf("persist refreshed credential: %w", err)
	}
	return next, nil
}

// ListAccounts reports authentication status for every supported agent.
func (s *Service) ListAccounts() []Account {
	accounts := make([]Account, 0, len(config.AllAgentTypes()))
	for _, t := range config.AllAgentTypes() {
		cred, err := s.tokens.Load(t)
		if err != nil {
			accounts = append(accounts, Account{Type: t})
			continue
		}
		accounts = append(accounts, Account{Type: t, Email: cred.Email, Authenticated: true})
	}
	return accounts
}

// RemoveAuth deletes the stored credential for the agent.
func (s *Service) RemoveAuth(agentType config.AgentType) error {
	return s.tokens.Delete(agentType)
}
