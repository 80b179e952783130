package utils

import (
	"net/http"
	"time"
)

type HTTPClientConfig struct {
	// Timeout bounds dialing, the TLS handshake and the wait for response
	// headers. Bodies stream without a deadline; callers bound them with ctx.
	Timeout       time.Duration
	KATimeout     time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string
}

// HTTPDoer is the request surface the downloader and API clients share.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
