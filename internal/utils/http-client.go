package utils

import (
	"maps"
	"net"
	"net/http"
	"net/url"
	"time"
)

type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	headers := maps.Clone(DefaultHeaders)
	maps.Copy(headers, cfg.Headers)
	cfg.Headers = headers
	dialer := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &HTTPClient{
		client: &http.Client{Transport: transport},
		config: cfg,
	}
}

// Do sets the configured user agent and headers without clobbering headers the
// caller already put on the request.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.applyDefaults(req.Header)
	return c.client.Do(req)
}

// RoundTripper exposes the transport with the same header defaults as Do, for
// clients that layer their own round trippers on top.
func (c *HTTPClient) RoundTripper() http.RoundTripper {
	return &defaultsTransport{client: c}
}

func (c *HTTPClient) applyDefaults(h http.Header) {
	if h.Get("User-Agent") == "" {
		if c.config.UserAgent != "" {
			h.Set("User-Agent", c.config.UserAgent)
		} else {
			h.Set("User-Agent", ToolUserAgent)
		}
	}
	for k, v := range c.config.Headers {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
}

type defaultsTransport struct {
	client *HTTPClient
}

func (t *defaultsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	t.client.applyDefaults(req.Header)
	return t.client.client.Transport.RoundTrip(req)
}
