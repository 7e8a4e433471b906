package httpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2 holds client credentials for HTTP endpoints behind a token gateway.
type OAuth2 struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Httpc builds resty clients for outgoing requests.
type Httpc struct {
	TlsConfig *tls.Config
	Insecure  bool
	// MinTLSVersion and MaxTLSVersion accept "1.2", "tls1.3", "TLS13" and the like.
	MinTLSVersion string
	MaxTLSVersion string
	Timeout       time.Duration
	// Proxies maps a request scheme to a proxy URL. Schemes not listed follow
	// HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
	Proxies map[string]string
	OAuth2  *OAuth2
}

// New returns a resty.Client configured from the receiver.
func (h *Httpc) New(ctx context.Context) (*resty.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()

	tlsCfg, err := h.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		base.TLSClientConfig = tlsCfg
	}

	proxy, err := h.proxyFunc()
	if err != nil {
		return nil, err
	}
	base.Proxy = proxy

	var rt http.RoundTripper = base
	if h.OAuth2 != nil {
		cc := clientcredentials.Config{
			ClientID:     h.OAuth2.ClientID,
			ClientSecret: h.OAuth2.ClientSecret,
			TokenURL:     h.OAuth2.TokenURL,
			Scopes:       h.OAuth2.Scopes,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base, Timeout: h.Timeout})
		rt = &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: base}
	}

	c := resty.NewWithClient(&http.Client{Transport: rt})
	if h.Timeout > 0 {
		c.SetTimeout(h.Timeout)
	}
	return c, nil
}

func (h *Httpc) tlsConfig() (*tls.Config, error) {
	var cfg *tls.Config
	if h.TlsConfig != nil {
		cfg = h.TlsConfig.Clone()
	}
	minV := parseTLSVersion(h.MinTLSVersion)
	maxV := parseTLSVersion(h.MaxTLSVersion)
	if strings.TrimSpace(h.MinTLSVersion) != "" && minV == 0 {
		return nil, fmt.Errorf("unknown tls version %q", h.MinTLSVersion)
	}
	if strings.TrimSpace(h.MaxTLSVersion) != "" && maxV == 0 {
		return nil, fmt.Errorf("unknown tls version %q", h.MaxTLSVersion)
	}
	if !h.Insecure && minV == 0 && maxV == 0 {
		return cfg, nil
	}
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if h.Insecure {
		cfg.InsecureSkipVerify = true // #nosec G402 -- opt-in for self-signed endpoints
	}
	if minV != 0 {
		cfg.MinVersion = minV
	}
	if maxV != 0 {
		cfg.MaxVersion = maxV
	}
	return cfg, nil
}

// proxyFromEnvironment is swapped in tests; the stdlib caches the environment.
var proxyFromEnvironment = http.ProxyFromEnvironment

func (h *Httpc) proxyFunc() (func(*http.Request) (*url.URL, error), error) {
	if len(h.Proxies) == 0 {
		return proxyFromEnvironment, nil
	}
	parsed := make(map[string]*url.URL, len(h.Proxies))
	for scheme, raw := range h.Proxies {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s proxy: %w", scheme, err)
		}
		parsed[strings.ToLower(scheme)] = u
	}
	return func(r *http.Request) (*url.URL, error) {
		if u, ok := parsed[r.URL.Scheme]; ok {
			return u, nil
		}
		return proxyFromEnvironment(r)
	}, nil
}

// parseTLSVersion maps a version string to its tls constant, or 0 when unknown.
func parseTLSVersion(s string) uint16 {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "tls")
	v = strings.TrimPrefix(v, "v")
	switch v {
	case "1.0", "10":
		return tls.VersionTLS10
	case "1.1", "11":
		return tls.VersionTLS11
	case "1.2", "12":
		return tls.VersionTLS12
	case "1.3", "13":
		return tls.VersionTLS13
	default:
		return 0
	}
}
