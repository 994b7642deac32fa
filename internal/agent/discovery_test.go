package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func consulServer(t *testing.T, wantTag string, response []map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health/service/beacon-controller" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("tag"); got != wantTag {
			t.Errorf("Expected tag %q, got %q", wantTag, got)
		}
		if _, ok := r.URL.Query()["passing"]; !ok {
			t.Error("Expected passing-only query")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDiscover(t *testing.T) {
	server := consulServer(t, TagGRPC, []map[string]any{
		{
			"Node":    map[string]any{"Address": "10.0.0.1"},
			"Service": map[string]any{"Address": "10.0.0.2", "Port": 9090},
		},
	})

	sd, err := NewServiceDiscovery(server.URL[7:], "beacon-controller")
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	addr, err := sd.Discover(context.Background(), TagGRPC)
	if err != nil {
		t.Fatalf("Failed to discover collector: %v", err)
	}

	expected := "10.0.0.2:9090"
	if addr != expected {
		t.Errorf("Expected address %s, got %s", expected, addr)
	}
}

func TestDiscoverNoServices(t *testing.T) {
	server := consulServer(t, TagHTTP, []map[string]any{})

	sd, err := NewServiceDiscovery(server.URL[7:], "beacon-controller")
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	if _, err := sd.Discover(context.Background(), TagHTTP); err == nil {
		t.Error("Expected error when no services found")
	}
}

func TestDiscoverUsesNodeAddress(t *testing.T) {
	server := consulServer(t, TagHTTP, []map[string]any{
		{
			"Node":    map[string]any{"Address": "10.0.0.1"},
			"Service": map[string]any{"Address": "", "Port": 8080},
		},
	})

	sd, err := NewServiceDiscovery(server.URL[7:], "beacon-controller")
	if err != nil {
		t.Fatalf("Failed to create service discovery: %v", err)
	}

	addr, err := sd.Discover(context.Background(), TagHTTP)
	if err != nil {
		t.Fatalf("Failed to discover collector: %v", err)
	}

	expected := "10.0.0.1:8080"
	if addr != expected {
		t.Errorf("Expected address %s (node address), got %s", expected, addr)
	}
}
