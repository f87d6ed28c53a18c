package netx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHedge_FirstSuccessWins(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Write([]byte("slow"))
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fast"))
	}))
	defer fast.Close()

	c := NewClient(ClientConfig{Timeout: 2 * time.Second, BreakerThreshold: 100})

	candidates := []Candidate{
		{Method: http.MethodGet, URL: slow.URL, Priority: 2},
		{Method: http.MethodGet, URL: fast.URL, Priority: 1},
	}
	resp, err := c.Hedge(context.Background(), candidates, 2, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(resp.Body) != "fast" {
		t.Errorf("expected the fast response to win, got %s", resp.Body)
	}
}

func TestHedge_AggregatesTotalFailure(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	c := NewClient(ClientConfig{Timeout: time.Second, BreakerThreshold: 100})

	candidates := []Candidate{
		{Method: http.MethodGet, URL: bad.URL, Priority: 2},
		{Method: http.MethodGet, URL: bad.URL + "/other", Priority: 1},
	}
	_, err := c.Hedge(context.Background(), candidates, 2, 0)
	if err == nil {
		t.Fatal("expected total failure")
	}

	hedgeErr, ok := err.(*HedgeError)
	if !ok {
		t.Fatalf("expected *HedgeError, got %T", err)
	}
	if len(hedgeErr.Results) != 2 {
		t.Errorf("expected 2 recorded failures, got %d", len(hedgeErr.Results))
	}
}

func TestHedge_NoCandidates(t *testing.T) {
	c := NewClient(ClientConfig{})
	if _, err := c.Hedge(context.Background(), nil, 1, 0); err == nil {
		t.Error("expected error with no candidates")
	}
}
