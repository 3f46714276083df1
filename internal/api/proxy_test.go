package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/vibemate/vibemate/internal/config"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// newUpstream starts a fake provider that records the last request and
// replies with the given handler.
func newUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		captured.Header = r.Header.Clone()
		captured.Body = body
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestGateway(t *testing.T, mutate func(*config.Settings)) (*Server, *gin.Engine) {
	t.Helper()
	store := config.NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("init config store: %v", err)
	}
	if mutate != nil {
		if err := store.Update(mutate); err != nil {
			t.Fatalf("seed settings: %v", err)
		}
	}
	s := NewServer(store)
	return s, s.buildEngine()
}

func doProxyRequest(engine *gin.Engine, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestSplitGatewayPath(t *testing.T) {
	cases := []struct {
		path      string
		wantGroup config.APIGroup
		wantRest  string
	}{
		{"/api/openai/v1/chat/completions", config.GroupOpenAI, "/v1/chat/completions"},
		{"/api/anthropic/v1/messages", config.GroupAnthropic, "/v1/messages"},
		{"/api/openai", config.GroupOpenAI, ""},
		{"/api/v1/chat/completions", config.GroupGeneric, "/v1/chat/completions"},
		{"/api/custom/endpoint", config.GroupGeneric, "/custom/endpoint"},
		// A prefix match must end at a segment boundary.
		{"/api/openaifoo/v1", config.GroupGeneric, "/openaifoo/v1"},
		{"/api/anthropiclike", config.GroupGeneric, "/anthropiclike"},
	}
	for _, tc := range cases {
		group, rest := splitGatewayPath(tc.path)
		if group != tc.wantGroup || rest != tc.wantRest {
			t.Errorf("splitGatewayPath(%q) = (%s, %q), want (%s, %q)",
				tc.path, group, rest, tc.wantGroup, tc.wantRest)
		}
	}
}

func TestProxyForwardsBufferedResponse(t *testing.T) {
	upstream, captured := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"resp-1"}`))
	})

	_, engine := newTestGateway(t, func(s *config.Settings) {
		s.Providers = []config.Provider{{
			ID: "p1", Name: "Upstream", Kind: config.ProviderOpenAI,
			APIBaseURL: upstream.URL, APIKey: "sk-test", IsDefault: true,
		}}
	})

	header := http.Header{}
	header.Set("Authorization", "Bearer client-token")
	header.Set("X-Custom", "keep-me")
	w := doProxyRequest(engine, http.MethodPost, "/api/openai/v1/chat/completions?stream=false",
		`{"model":"gpt-4o","messages":[]}`, header)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Body.String() != `{"id":"resp-1"}` {
		t.Fatalf("body = %s", w.Body.String())
	}
	if w.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("upstream header lost: %v", w.Header())
	}

	if captured.Path != "/v1/chat/completions" {
		t.Fatalf("upstream path = %q", captured.Path)
	}
	if captured.Query != "stream=false" {
		t.Fatalf("upstream query = %q", captured.Query)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("auth header = %q, want provider key not client token", got)
	}
	if captured.Header.Get("X-Custom") != "keep-me" {
		t.Fatalf("custom header not forwarded: %v", captured.Header)
	}
	if captured.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", captured.Header.Get("Content-Type"))
	}
	if gjson.GetBytes(captured.Body, "model").String() != "gpt-4o" {
		t.Fatalf("upstream body = %s", captured.Body)
	}
}

func TestProxyModelRewrite(t *testing.T) {
	upstream, captured := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	_, engine := newTestGateway(t, func(s *config.Settings) {
		s.Providers = []config.Provider{{
			ID: "p1", Name: "DeepSeek", Kind: config.ProviderOpenAI,
			APIBaseURL: upstream.URL, APIKey: "k", IsDefault: true,
		}}
		s.RoutingRules = []config.RoutingRule{{
			ID: "r1", RuleType: config.RuleModel, APIGroup: config.GroupAnthropic,
			MatchPattern: "claude-*", ProviderID: "p1", ModelRewrite: "deepseek-chat",
			Priority: 1, Enabled: true,
		}}
	})

	w := doProxyRequest(engine, http.MethodPost, "/api/anthropic/v1/messages",
		`{"model":"claude-sonnet-4","max_tokens":100}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := gjson.GetBytes(captured.Body, "model").String(); got != "deepseek-chat" {
		t.Fatalf("forwarded model = %q, want deepseek-chat", got)
	}
	if !gjson.GetBytes(captured.Body, "max_tokens").Exists() {
		t.Fatalf("rest of body lost: %s", captured.Body)
	}
}

func TestProxyDedupesV1Segment(t *testing.T) {
	upstream, captured := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	_, engine := newTestGateway(t, func(s *config.Settings) {
		s.Providers = []config.Provider{{
			ID: "p1", Name: "Upstream", Kind: config.ProviderOpenAI,
			APIBaseURL: upstream.URL + "/v1", APIKey: "k", IsDefault: true,
		}}
	})

	w := doProxyRequest(engine, http.MethodPost, "/api/openai/v1/chat/completions", `{}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if captured.Path != "/v1/chat/completions" {
		t.Fatalf("upstream path = %q, want /v1/chat/completions", captured.Path)
	}
}

func TestProxyAuthHeaderPerProviderKind(t *testing.T) {
	cases := []struct {
		kind       config.ProviderKind
		checkName  string
		checkValue string
	}{
		{config.ProviderAnthropic, "x-api-key", "secret"},
		{config.ProviderGoogle, "x-goog-api-key", "secret"},
		{config.ProviderOpenAI, "Authorization", "Bearer secret"},
		{config.ProviderCustom, "Authorization", "Bearer secret"},
	}
	for _, tc := range cases {
		upstream, captured := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{}"))
		})
		_, engine := newTestGateway(t, func(s *config.Settings) {
			s.Providers = []config.Provider{{
				ID: "p1", Name: "P", Kind: tc.kind,
				APIBaseURL: upstream.URL, APIKey: "secret", IsDefault: true,
			}}
		})

		w := doProxyRequest(engine, http.MethodPost, "/api/v1/chat/completions", `{}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tc.kind, w.Code)
		}
		if got := captured.Header.Get(tc.checkName); got != tc.checkValue {
			t.Fatalf("%s: %s = %q, want %q", tc.kind, tc.checkName, got, tc.checkValue)
		}
		if tc.kind == config.ProviderAnthropic {
			if got := captured.Header.Get("anthropic-version"); got != "2023-06-01" {
				t.Fatalf("anthropic-version = %q", got)
			}
		}
	}
}

func TestProxyNoProvidersConfigured(t *testing.T) {
	_, engine := newTestGateway(t, nil)

	w := doProxyRequest(engine, http.MethodPost, "/api/v1/chat/completions", `{}`, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if payload.Error.Type != "proxy_error" {
		t.Fatalf("error type = %q", payload.Error.Type)
	}
	if payload.Error.Message != "No provider configured. Please add a provider in Vibe Mate settings." {
		t.Fatalf("error message = %q", payload.Error.Message)
	}
}

func TestProxyUnreachableUpstream(t *testing.T) {
	_, engine := newTestGateway(t, func(s *config.Settings) {
		s.Providers = []config.Provider{{
			ID: "p1", Name: "Dead", Kind: config.ProviderOpenAI,
			APIBaseURL: "http://127.0.0.1:1", APIKey: "k", IsDefault: true,
		}}
	})

	w := doProxyRequest(engine, http.MethodPost, "/api/v1/chat/completions", `{}`, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.GetBytes(w.Body.Bytes(), "error.type").String(); got != "proxy_error" {
		t.Fatalf("error type = %q, body %s", got, w.Body.String())
	}
}

func TestProxyRelaysSSEStream(t *testing.T) {
	chunks := []string{
		"data: {\"delta\":\"hel\"}\n\n",
		"data: {\"delta\":\"lo\"}\n\n",
		"data: [DONE]\n\n",
	}
	upstream, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	})

	_, engine := newTestGateway(t, func(s *config.Settings) {
		s.Providers = []config.Provider{{
			ID: "p1", Name: "Upstream", Kind: config.ProviderOpenAI,
			APIBaseURL: upstream.URL, APIKey: "k", IsDefault: true,
		}}
	})

	w := doProxyRequest(engine, http.MethodPost, "/api/openai/v1/chat/completions",
		`{"model":"gpt-4o","stream":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); !strings.Contains(got, "text/event-stream") {
		t.Fatalf("content type = %q", got)
	}
	if w.Body.String() != strings.Join(chunks, "") {
		t.Fatalf("stream body = %q", w.Body.String())
	}
	if !w.Flushed {
		t.Fatal("stream was not flushed")
	}
}

func TestProxyPathRuleMatchesOriginalPath(t *testing.T) {
	matched, matchedCaptured := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	fallback, fallbackCaptured := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	_, engine := newTestGateway(t, func(s *config.Settings) {
		s.Providers = []config.Provider{
			{ID: "matched", Name: "Matched", Kind: config.ProviderOpenAI, APIBaseURL: matched.URL, APIKey: "k"},
			{ID: "fallback", Name: "Fallback", Kind: config.ProviderOpenAI, APIBaseURL: fallback.URL, APIKey: "k", IsDefault: true},
		}
		s.RoutingRules = []config.RoutingRule{{
			ID: "r1", RuleType: config.RulePath, APIGroup: config.GroupGeneric,
			MatchPattern: "/api/*", ProviderID: "matched", Priority: 1, Enabled: true,
		}}
	})

	w := doProxyRequest(engine, http.MethodPost, "/api/custom/endpoint", `{}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if matchedCaptured.Path != "/custom/endpoint" {
		t.Fatalf("matched upstream path = %q", matchedCaptured.Path)
	}
	if fallbackCaptured.Path != "" {
		t.Fatal("fallback provider should not have been called")
	}
}
