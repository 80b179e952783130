package utils

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientDefaults(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Headers: map[string]string{"X-Extra": "1"}})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Cache-Control", "max-age=0")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got.Get("User-Agent") != ToolUserAgent {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
	if got.Get("X-Extra") != "1" || got.Get("Accept-Language") == "" {
		t.Errorf("configured headers missing: %v", got)
	}
	if got.Get("Cache-Control") != "max-age=0" {
		t.Errorf("request header was overwritten: %q", got.Get("Cache-Control"))
	}
}

func TestRoundTripperAppliesDefaults(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{UserAgent: "build-helper-test"})
	hc := &http.Client{Transport: c.RoundTripper()}
	resp, err := hc.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if ua != "build-helper-test" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestSlowBodyOutlivesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 10; i++ {
			w.Write([]byte("x"))
			w.(http.Flusher).Flush()
			time.Sleep(30 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Timeout: 100 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("body cut off after %d bytes: %v", len(body), err)
	}
	if len(body) != 10 {
		t.Errorf("got %d bytes, want 10", len(body))
	}
}

func TestSlowHeadersTimeOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Timeout: 50 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected a response header timeout")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Authorization: Bearer x", "bad", "X-A:b:c"})
	if got["Authorization"] != "Bearer x" || got["X-A"] != "b:c" || len(got) != 2 {
		t.Errorf("ParseHeaderArgs = %v", got)
	}
}
