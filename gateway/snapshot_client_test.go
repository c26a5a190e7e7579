package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q", got)
		}
		w.Write([]byte(`{"lastUpdateId":42,"bids":[["100.1","2"]],"asks":[["100.2","3"]]}`))
	}))
	defer srv.Close()

	c := &SnapshotClient{BaseURL: srv.URL, HTTPClient: srv.Client()}
	snap, err := c.FetchDepth(context.Background(), "BTCUSDT", 50)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SequenceID != 42 || len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestFetchDepthAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &SnapshotClient{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := c.FetchDepth(context.Background(), "BTCUSDT", 50)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected ErrAuthRejected, got %v", err)
	}
}

func TestFetchDepthServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &SnapshotClient{BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := c.FetchDepth(context.Background(), "BTCUSDT", 50)
	if err == nil || errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
