package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGetText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("udp://tracker.example:1337/announce"))
	}))
	defer srv.Close()

	text, err := newTestDownloader(srv).GetText(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if text != "udp://tracker.example:1337/announce" || calls.Load() != 2 {
		t.Errorf("text=%q calls=%d", text, calls.Load())
	}
}

func TestGetTextGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestDownloader(srv).GetText(context.Background(), srv.URL, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if calls.Load() != DefaultRetries+1 {
		t.Errorf("calls = %d", calls.Load())
	}
}
