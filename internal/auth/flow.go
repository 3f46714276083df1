package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vibemate/vibemate/internal/config"
)

const completeTimeout = 300 * time.Second

const callbackSuccessPage = `<!DOCTYPE html>
<html>
<head><title>Authentication Successful</title></head>
<body>Authentication successful. You can close this window and return to Vibe Mate.</body>
</html>`

type callbackResult struct {
	code  string
	state string
}

// pendingFlow is one in-progress browser login: the loopback listener
// waiting for the vendor redirect and the one-shot channel it delivers on.
type pendingFlow struct {
	id        string
	agentType config.AgentType
	state     string
	verifier  string
	result    chan callbackResult
	server    *http.Server
	closeOnce sync.Once
}

func (f *pendingFlow) shutdown() {
	f.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.server.Shutdown(ctx)
	})
}

// FlowStart is returned from StartAuth: the URL for the user's browser and
// the handle to complete the login with.
type FlowStart struct {
	FlowID  string `json:"flow_id"`
	AuthURL string `json:"auth_url"`
}

// Orchestrator drives browser logins. At most one flow is pending at a
// time; vendors register a single fixed localhost redirect, so concurrent
// flows would race for the same port anyway.
type Orchestrator struct {
	adapters func(config.AgentType) (Adapter, error)
	tokens   TokenStore

	mu      sync.Mutex
	pending *pendingFlow

	// completion wait, overridable in tests
	timeout time.Duration
}

// NewOrchestrator wires the flow machinery to an adapter factory and the
// credential store.
func NewOrchestrator(adapters func(config.AgentType) (Adapter, error), tokens TokenStore) *Orchestrator {
	return &Orchestrator{adapters: adapters, tokens: tokens, timeout: completeTimeout}
}

// StartAuth begins a login for the given agent: generates the state nonce,
// builds the authorize URL, and binds the loopback listener on the vendor's
// fixed callback port. Returns ErrFlowInProgress while another flow is
// pending.
func (o *Orchestrator) StartAuth(agentType config.AgentType) (*FlowStart, error) {
	adapter, err := o.adapters(agentType)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return nil, ErrFlowInProgress
	}

	state := RandomState()
	authReq, err := adapter.AuthorizeRequest(state)
	if err != nil {
		return nil, fmt.Errorf("build authorize request: %w", err)
	}

	flow := &pendingFlow{
		id:        uuid.NewString(),
		agentType: agentType,
		state:     state,
		verifier:  authReq.PKCEVerifier,
		result:    make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(authReq.CallbackPath, flow.handleCallback)
	flow.server = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", authReq.CallbackPort))
	if err != nil {
		return nil, fmt.Errorf("bind callback listener on port %d: %w", authReq.CallbackPort, err)
	}
	go func() {
		if err := flow.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warnf("auth callback server: %v", err)
		}
	}()

	o.pending = flow
	log.Infof("started %s auth flow %s (callback on port %d)", agentType, flow.id, authReq.CallbackPort)
	return &FlowStart{FlowID: flow.id, AuthURL: authReq.URL}, nil
}

func (f *pendingFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	if code == "" {
		http.Error(w, "Missing code in callback", http.StatusBadRequest)
		return
	}
	state := query.Get("state")
	if state == "" {
		// Some vendors tack the state onto the code value as a fragment
		// instead of sending a separate parameter.
		code, state = splitCodeFragment(code)
	}
	if state == "" {
		http.Error(w, "Missing state in callback", http.StatusBadRequest)
		return
	}
	if state != f.state {
		// Leave the flow pending; the user can retry from the same URL.
		http.Error(w, "Invalid state in callback", http.StatusBadRequest)
		return
	}

	select {
	case f.result <- callbackResult{code: code, state: state}:
	default:
		log.Warn("auth callback received but already delivered")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(callbackSuccessPage))

	// The listener served its one redirect.
	go f.shutdown()
}

func splitCodeFragment(code string) (string, string) {
	idx := strings.IndexByte(code, '#')
	if idx < 0 {
		return code, ""
	}
	fragment := code[idx+1:]
	code = code[:idx]
	for _, part := range strings.Split(fragment, "&") {
		if v, ok := strings.CutPrefix(part, "state="); ok {
			return code, v
		}
	}
	return code, ""
}

// CompleteAuth waits for the browser redirect, exchanges the code, resolves
// the account identity, and persists the credential. The flow is consumed
// whether or not completion succeeds; a failed exchange leaves nothing on
// disk.
func (o *Orchestrator) CompleteAuth(ctx context.Context, flowID string) (*Account, error) {
	o.mu.Lock()
	flow := o.pending
	if flow == nil || flow.id != flowID {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	o.pending = nil
	o.mu.Unlock()
	defer flow.shutdown()

	var cb callbackResult
	select {
	case cb = <-flow.result:
	case <-time.After(o.timeout):
		return nil, ErrFlowTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if cb.state != flow.state {
		return nil, ErrInvalidCallback
	}
	flow.shutdown()

	adapter, err := o.adapters(flow.agentType)
	if err != nil {
		return nil, err
	}
	token, err := adapter.ExchangeCode(ctx, cb.code, cb.state, flow.verifier)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	email, err := adapter.ResolveIdentity(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	cred, err := adapter.Credential(ctx, token, email)
	if err != nil {
		return nil, err
	}
	if err := o.tokens.Save(cred); err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}
	log.Infof("authenticated %s as %s", flow.agentType, email)
	return &Account{Type: flow.agentType, Email: email, Authenticated: true}, nil
}

// Cancel aborts the pending flow, if any, and frees the callback port.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	flow := o.pending
	o.pending = nil
	o.mu.Unlock()
	if flow != nil {
		flow.shutdown()
	}
}
