package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunJobSubmitPollResult(t *testing.T) {
	var statusCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/dgm/jobs/advance":
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected json content type, got %q", r.Header.Get("Content-Type"))
			}
			if r.Header.Get("Authorization") != "" {
				t.Errorf("expected no Authorization header when no token configured")
			}
			json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/dgm/jobs/job-1/status":
			statusCalls++
			status := "running"
			if statusCalls > 1 {
				status = "completed"
			}
			json.NewEncoder(w).Encode(map[string]string{"status": status})
		case r.Method == http.MethodGet && r.URL.Path == "/dgm/jobs/job-1/result":
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{"runs": "r1"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewRemoteClient(RemoteConfig{
		BaseURL:      srv.URL,
		PollInterval: 10 * time.Millisecond,
	})

	raw, err := client.RunJob(context.Background(), "dgm/jobs/advance",
		func(id string) string { return "dgm/jobs/" + id + "/status" },
		func(id string) string { return "dgm/jobs/" + id + "/result" },
		map[string]any{"runs": []string{"r1"}})
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if statusCalls < 2 {
		t.Fatalf("expected at least 2 status polls, got %d", statusCalls)
	}

	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded["runs"] != "r1" {
		t.Fatalf("unexpected result: %v", decoded)
	}
}

func TestRunJobUsesBearerTokenWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dgm/jobs/advance" {
			if r.Header.Get("Authorization") != "Bearer secret" {
				t.Errorf("expected Authorization: Bearer secret, got %q", r.Header.Get("Authorization"))
			}
			json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
			return
		}
		if r.URL.Path == "/dgm/jobs/job-1/status" {
			json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]string{}})
	}))
	defer srv.Close()

	client := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, AuthToken: "secret", PollInterval: time.Millisecond})
	_, err := client.RunJob(context.Background(), "dgm/jobs/advance",
		func(id string) string { return "dgm/jobs/" + id + "/status" },
		func(id string) string { return "dgm/jobs/" + id + "/result" },
		nil)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
}

func TestRunJobFailedStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dgm/jobs/advance" {
			json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
	}))
	defer srv.Close()

	client := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, PollInterval: time.Millisecond})
	_, err := client.RunJob(context.Background(), "dgm/jobs/advance",
		func(id string) string { return "dgm/jobs/" + id + "/status" },
		func(id string) string { return "dgm/jobs/" + id + "/result" },
		nil)
	if err == nil {
		t.Fatalf("expected error for failed job status")
	}
}
