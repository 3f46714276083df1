// Package util contains small shared helpers: proxy-aware HTTP client
// construction and log level configuration.
package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/vibemate/vibemate/internal/config"
)

// NewHTTPClient returns an HTTP client honoring the app-level outbound proxy
// setting. Supports http, https and socks5 proxy URLs; an empty or invalid
// configuration yields a direct client.
func NewHTTPClient(app config.AppConfig) *http.Client {
	client := &http.Client{}
	transport := buildTransport(app)
	if transport != nil {
		client.Transport = transport
	}
	return client
}

func buildTransport(app config.AppConfig) *http.Transport {
	if !app.EnableProxy || strings.TrimSpace(app.ProxyURL) == "" {
		return nil
	}

	proxyURL, err := url.Parse(app.ProxyURL)
	if err != nil {
		log.Warnf("invalid proxy url %q: %v", app.ProxyURL, err)
		return nil
	}

	switch proxyURL.Scheme {
	case "socks5":
		var auth *proxy.Auth
		if user := proxyURL.User; user != nil {
			password, _ := user.Password()
			auth = &proxy.Auth{User: user.Username(), Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
			return nil
		}
		return &http.Transport{
			DialContext: func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		noProxy := app.NoProxy
		return &http.Transport{
			Proxy: func(req *http.Request) (*url.URL, error) {
				if hostMatchesNoProxy(req.URL.Hostname(), noProxy) {
					return nil, nil
				}
				return proxyURL, nil
			},
		}
	default:
		log.Warnf("unsupported proxy scheme %q", proxyURL.Scheme)
		return nil
	}
}

func hostMatchesNoProxy(host string, noProxy []string) bool {
	for _, entry := range noProxy {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+strings.TrimPrefix(entry, ".")) {
			return true
		}
	}
	return false
}
