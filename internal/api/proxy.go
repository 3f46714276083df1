package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/vibemate/vibemate/internal/config"
	"github.com/vibemate/vibemate/internal/router"
)

// skippedRequestHeaders are never forwarded upstream: identity headers are
// replaced with the provider's own credentials, and framing headers are
// recomputed for the outbound body.
var skippedRequestHeaders = map[string]bool{
	"Host":                true,
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Content-Length":      true,
	"Transfer-Encoding":   true,
	"Connection":          true,
}

func splitGatewayPath(fullPath string) (config.APIGroup, string) {
	switch {
	case matchesGroupPrefix(fullPath, "/api/openai"):
		return config.GroupOpenAI, strings.TrimPrefix(fullPath, "/api/openai")
	case matchesGroupPrefix(fullPath, "/api/anthropic"):
		return config.GroupAnthropic, strings.TrimPrefix(fullPath, "/api/anthropic")
	default:
		return config.GroupGeneric, strings.TrimPrefix(fullPath, "/api")
	}
}

// matchesGroupPrefix matches the prefix as a whole path segment, so
// /api/openaifoo stays on the generic group.
func matchesGroupPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func (s *Server) handleProxy(c *gin.Context) {
	fullPath := c.Request.URL.Path
	group, strippedPath := splitGatewayPath(fullPath)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		proxyError(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Absent or non-JSON bodies simply yield no model name.
	modelName := ""
	if gjson.ValidBytes(body) {
		modelName = gjson.GetBytes(body, "model").String()
	}

	settings := s.cfg.Snapshot()
	// Rules match against the original path, so generic patterns like
	// "/api/*" see the prefix the caller used.
	resolution, err := router.Resolve(settings, group, fullPath, modelName)
	if err != nil {
		proxyError(c, http.StatusBadGateway, "No provider configured. Please add a provider in Vibe Mate settings.")
		return
	}

	provider := resolution.Provider
	baseURL := strings.TrimRight(provider.APIBaseURL, "/")
	targetPath := strippedPath
	if strings.HasSuffix(baseURL, "/v1") && strings.HasPrefix(targetPath, "/v1") {
		targetPath = targetPath[len("/v1"):]
	}
	targetURL := baseURL + targetPath
	if q := c.Request.URL.RawQuery; q != "" {
		targetURL += "?" + q
	}

	if resolution.ModelRewritten {
		if rewritten, err := sjson.SetBytes(body, "model", resolution.FinalModel); err == nil {
			body = rewritten
		}
	}

	log.Infof("routing %s %s to %s (%s), model %q -> %q",
		c.Request.Method, fullPath, provider.Name, baseURL, modelName, resolution.FinalModel)

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, strings.NewReader(string(body)))
	if err != nil {
		proxyError(c, http.StatusBadGateway, "failed to build upstream request: "+err.Error())
		return
	}
	for name, values := range c.Request.Header {
		if skippedRequestHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	addAuthHeader(req, provider)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.newClient(settings.App).Do(req)
	if err != nil {
		log.Errorf("forward to %s failed: %v", targetURL, err)
		proxyError(c, http.StatusBadGateway, "Failed to connect to provider: "+err.Error())
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		relayStream(c, resp)
		return
	}
	relayBuffered(c, resp)
}

func addAuthHeader(req *http.Request, provider config.Provider) {
	switch provider.Kind {
	case config.ProviderAnthropic:
		req.Header.Set("x-api-key", provider.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case config.ProviderGoogle:
		req.Header.Set("x-goog-api-key", provider.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
}

// relayStream copies an SSE response through unbuffered, flushing after
// every chunk. An upstream read error simply terminates the stream; the
// status line has already been sent.
func relayStream(c *gin.Context, resp *http.Response) {
	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Warnf("streaming relay interrupted: %v", err)
			}
			return
		}
	}
}

func relayBuffered(c *gin.Context, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		proxyError(c, http.StatusBadGateway, "failed to read upstream response: "+err.Error())
		return
	}
	for name, values := range resp.Header {
		// The relayed body has a known length.
		if http.CanonicalHeaderKey(name) == "Transfer-Encoding" {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = c.Writer.Write(body)
}

func proxyError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "proxy_error",
		},
	})
}
