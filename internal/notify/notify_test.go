package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendAuthFailure(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, nil)
	err := wh.SendAuthFailure(AuthFailure{
		Service:      "github",
		ProjectPath:  "/srv/app",
		ErrorKind:    "401",
		ErrorMessage: "bad credentials",
		PausedPhase:  "staging_deploy",
		Timestamp:    "2025-06-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["event"] != "auth_failure" {
		t.Errorf("event = %v", got["event"])
	}
	if got["service"] != "github" || got["paused_phase"] != "staging_deploy" {
		t.Errorf("payload = %v", got)
	}
}

func TestSendAuthRestored(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, nil)
	if err := wh.SendAuthRestored(AuthRestored{Service: "github", SourceName: "work"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["event"] != "auth_restored" || got["source_name"] != "work" {
		t.Errorf("payload = %v", got)
	}
}

func TestSendReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, nil)
	if err := wh.SendAuthFailure(AuthFailure{Service: "github"}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestSendReportsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	wh := NewWebhook(srv.URL, time.Second, nil)
	if err := wh.SendAuthRestored(AuthRestored{Service: "github"}); err == nil {
		t.Error("expected error for dead server")
	}
}
