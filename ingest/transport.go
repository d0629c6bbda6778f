package ingest

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// DefaultConnectTimeout and DefaultRequestTimeout enforce separate connect
// and overall request timeouts.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// newTransport builds an *http.Transport that honors HTTP_PROXY,
// HTTPS_PROXY and NO_PROXY explicitly via httpproxy.Config, rather than
// relying on http.ProxyFromEnvironment's implicit, unconfigurable caching.
func newTransport(connectTimeout time.Duration) *http.Transport {
	proxyCfg := httpproxy.FromEnvironment()
	dialer := &net.Dialer{Timeout: connectTimeout}

	return &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			return proxyCfg.ProxyFunc()(req.URL)
		},
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
		ForceAttemptHTTP2:   true,
	}
}
