package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/metorial/beacon/internal/models"
	"go.uber.org/zap/zaptest"
)

const adminToken = "admin-token"

func newTestMux(t *testing.T, env *testEnv) *http.ServeMux {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mux := http.NewServeMux()
	NewAPI(env.db, env.ingest, env.clock, logger, env.metrics).RegisterRoutes(mux)
	NewAdminAPI(env.db, adminToken, env.clock, logger).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.5:41000"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestHandleHealth(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)

	w := do(t, mux, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if response := decode(t, w); response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}

	env.db.Close()
	w = do(t, mux, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 after close, got %d", w.Code)
	}
}

func TestHandleReport(t *testing.T) {
	env := setupTestEnv(t)
	env.addHost(t, "edge-1", "s3cret", "10.0.0.5")
	mux := newTestMux(t, env)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"host_id":"edge-1","secret":"s3cret","cpu_usage":12.5,"uptime":3600,
			"static_info":{"cpu_cores":4,"cpu_model":"Xeon","system":"Debian 12","arch":"x86_64"}}`, http.StatusOK},
		{"legacy server_id", `{"server_id":"edge-1","secret":"s3cret"}`, http.StatusOK},
		{"malformed json", `{"host_id":`, http.StatusBadRequest},
		{"non-numeric metric", `{"host_id":"edge-1","secret":"s3cret","cpu_usage":"high"}`, http.StatusBadRequest},
		{"missing secret", `{"host_id":"edge-1"}`, http.StatusBadRequest},
		{"wrong secret", `{"host_id":"edge-1","secret":"nope"}`, http.StatusUnauthorized},
		{"unknown host", `{"host_id":"ghost","secret":"s3cret"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, http.MethodPost, "/api/v1/report", tt.body)
			if w.Code != tt.want {
				t.Fatalf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			response := decode(t, w)
			if tt.want == http.StatusOK && response["success"] != true {
				t.Errorf("Expected success, got %v", response)
			}
			if tt.want == http.StatusUnauthorized && response["error"] != "unauthorized" {
				t.Errorf("Expected generic unauthorized error, got %v", response["error"])
			}
		})
	}

	samples, err := env.db.RecentSamples(context.Background(), "edge-1", 10)
	if err != nil {
		t.Fatalf("Failed to read samples: %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("Expected 2 stored samples, got %d", len(samples))
	}
}

func TestHandleHostsAndHost(t *testing.T) {
	env := setupTestEnv(t)
	env.addHost(t, "edge-1", "s3cret", "")
	env.addHost(t, "edge-2", "s3cret", "")
	mux := newTestMux(t, env)

	w := do(t, mux, http.MethodPost, "/api/v1/report", `{"host_id":"edge-1","secret":"s3cret","cpu_usage":50}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Report failed: %d %s", w.Code, w.Body.String())
	}

	w = do(t, mux, http.MethodGet, "/api/v1/hosts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if count := int(decode(t, w)["count"].(float64)); count != 2 {
		t.Errorf("Expected 2 hosts, got %d", count)
	}

	w = do(t, mux, http.MethodGet, "/api/v1/hosts/edge-1?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	response := decode(t, w)
	host := response["host"].(map[string]any)
	if host["id"] != "edge-1" || host["online"] != true {
		t.Errorf("Unexpected host view: %v", host)
	}
	if _, leaked := host["secret"]; leaked {
		t.Error("Host view must not expose the secret")
	}
	if samples := response["samples"].([]any); len(samples) != 1 {
		t.Errorf("Expected 1 sample, got %d", len(samples))
	}

	w = do(t, mux, http.MethodGet, "/api/v1/hosts/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleOutagesAndStats(t *testing.T) {
	env := setupTestEnv(t)
	env.addHost(t, "edge-1", "s3cret", "")
	mux := newTestMux(t, env)
	ctx := context.Background()

	do(t, mux, http.MethodPost, "/api/v1/report", `{"host_id":"edge-1","secret":"s3cret","cpu_usage":30}`)
	later := testNow.Add(time.Minute)
	if _, err := env.db.MarkStale(ctx, later.Unix()); err != nil {
		t.Fatalf("MarkStale failed: %v", err)
	}
	outage := models.Outage{HostID: "edge-1", StartTime: later.Unix(), Title: "Host offline"}
	if _, err := env.db.OpenOutage(ctx, &outage); err != nil {
		t.Fatalf("OpenOutage failed: %v", err)
	}
	env.clock.Set(later.Add(30 * time.Second))

	w := do(t, mux, http.MethodGet, "/api/v1/outages?limit=1000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if count := int(decode(t, w)["count"].(float64)); count != 1 {
		t.Errorf("Expected 1 outage, got %d", count)
	}

	w = do(t, mux, http.MethodGet, "/api/v1/hosts/edge-1", "")
	host := decode(t, w)["host"].(map[string]any)
	if host["offline_for"] != float64(30) {
		t.Errorf("Expected offline_for 30, got %v", host["offline_for"])
	}

	w = do(t, mux, http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	stats := decode(t, w)
	if stats["offline_hosts"] != float64(1) || stats["open_outages"] != float64(1) {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)

	do(t, mux, http.MethodPost, "/api/v1/report", `{"host_id":"ghost","secret":"x"}`)

	w := do(t, mux, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `beacon_reports_total{result="unauthorized"} 1`) {
		t.Error("Expected unauthorized report to be counted")
	}
}

func TestAdminAPI(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)
	auth := []string{"Authorization", "Bearer " + adminToken}

	w := do(t, mux, http.MethodPost, "/api/v1/admin/hosts", `{"id":"edge-1","name":"Edge 1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", w.Code)
	}

	w = do(t, mux, http.MethodPost, "/api/v1/admin/hosts", `{"id":"edge-1","name":"Edge 1"}`, auth...)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	secret := decode(t, w)["secret"].(string)
	if len(secret) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(secret))
	}

	w = do(t, mux, http.MethodPost, "/api/v1/admin/hosts", `{"id":"edge-1","name":"Again"}`, auth...)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate host, got %d", w.Code)
	}

	w = do(t, mux, http.MethodPut, "/api/v1/admin/hosts/edge-1", `{"name":"Edge One","ip":"10.0.0.5"}`, auth...)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 on update, got %d", w.Code)
	}

	report := `{"host_id":"edge-1","secret":"` + secret + `"}`
	if w = do(t, mux, http.MethodPost, "/api/v1/report", report); w.Code != http.StatusOK {
		t.Fatalf("Expected report with issued secret to succeed, got %d", w.Code)
	}

	w = do(t, mux, http.MethodPost, "/api/v1/admin/hosts/edge-1/secret", "", auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on rotate, got %d", w.Code)
	}
	rotated := decode(t, w)["secret"].(string)

	if w = do(t, mux, http.MethodPost, "/api/v1/report", report); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected old secret to be rejected, got %d", w.Code)
	}
	if w = do(t, mux, http.MethodPost, "/api/v1/report", `{"host_id":"edge-1","secret":"`+rotated+`"}`); w.Code != http.StatusOK {
		t.Errorf("Expected rotated secret to work, got %d", w.Code)
	}

	w = do(t, mux, http.MethodPut, "/api/v1/admin/settings", `{"telegram_bot_token":"123:abc","site_name":"Lab"}`, auth...)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 on settings update, got %d", w.Code)
	}
	w = do(t, mux, http.MethodGet, "/api/v1/admin/settings", "", auth...)
	settings := decode(t, w)
	if settings["site_name"] != "Lab" || settings["telegram_bot_token"] == "123:abc" {
		t.Errorf("Unexpected settings view: %v", settings)
	}

	if w = do(t, mux, http.MethodDelete, "/api/v1/admin/hosts/edge-1", "", auth...); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", w.Code)
	}
	if w = do(t, mux, http.MethodDelete, "/api/v1/admin/hosts/edge-1", "", auth...); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", w.Code)
	}
}

func TestAdminAPIDisabledWithoutToken(t *testing.T) {
	env := setupTestEnv(t)
	mux := http.NewServeMux()
	NewAdminAPI(env.db, "", env.clock, zaptest.NewLogger(t)).RegisterRoutes(mux)

	w := do(t, mux, http.MethodPost, "/api/v1/admin/hosts", `{"name":"x"}`, "Authorization", "Bearer ")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with admin API disabled, got %d", w.Code)
	}
}

func TestAdminCreateHostNormalizesID(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)
	auth := []string{"Authorization", "Bearer " + adminToken}

	w := do(t, mux, http.MethodPost, "/api/v1/admin/hosts", `{"id":" edge-1 ","name":"Edge 1"}`, auth...)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	if id := created["host"].(map[string]any)["id"]; id != "edge-1" {
		t.Errorf("Expected trimmed id edge-1, got %q", id)
	}

	report := `{"host_id":"edge-1 ","secret":"` + created["secret"].(string) + `"}`
	if w = do(t, mux, http.MethodPost, "/api/v1/report", report); w.Code != http.StatusOK {
		t.Errorf("Expected report for the trimmed id to succeed, got %d: %s", w.Code, w.Body.String())
	}

	for _, body := range []string{`{"id":"   ","name":"x"}`, `{"id":"edge 2","name":"x"}`, `{"id":"edge\t3","name":"x"}`} {
		if w = do(t, mux, http.MethodPost, "/api/v1/admin/hosts", body, auth...); w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestAdminHostDescriptors(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)
	auth := []string{"Authorization", "Bearer " + adminToken}

	body := `{"id":"edge-1","name":"Edge 1","intro":" Tokyo box ","tags":[" asia ","","primary"],
		"latitude":228,"longitude":-12.5,"country_code":"jp"}`
	if w := do(t, mux, http.MethodPost, "/api/v1/admin/hosts", body, auth...); w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	host := decode(t, do(t, mux, http.MethodGet, "/api/v1/hosts/edge-1", ""))["host"].(map[string]any)
	if host["intro"] != "Tokyo box" || host["country_code"] != "JP" {
		t.Errorf("Unexpected descriptors: %v", host)
	}
	tags, _ := host["tags"].([]any)
	if len(tags) != 2 || tags[0] != "asia" || tags[1] != "primary" {
		t.Errorf("Expected tags [asia primary], got %v", host["tags"])
	}
	if host["latitude"] != float64(228) || host["longitude"] != -12.5 {
		t.Errorf("Unexpected coordinates: %v, %v", host["latitude"], host["longitude"])
	}

	if w := do(t, mux, http.MethodPut, "/api/v1/admin/hosts/edge-1", `{"name":"Edge 1","country_code":"JPN"}`, auth...); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a three-letter country code, got %d", w.Code)
	}
	if w := do(t, mux, http.MethodPost, "/api/v1/admin/hosts", `{"name":"x","country_code":"1a"}`, auth...); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a non-letter country code, got %d", w.Code)
	}

	if w := do(t, mux, http.MethodPut, "/api/v1/admin/hosts/edge-1", `{"name":"Edge 1","tags":["eu"]}`, auth...); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d", w.Code)
	}
	h, err := env.db.GetHost(context.Background(), "edge-1")
	if err != nil {
		t.Fatalf("GetHost failed: %v", err)
	}
	if len(h.Tags) != 1 || h.Tags[0] != "eu" || h.CountryCode != "" || h.Latitude != nil {
		t.Errorf("Expected update to replace descriptors, got %+v", h.Descriptors)
	}
}

func TestHostsServeSiteName(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)

	if site := decode(t, do(t, mux, http.MethodGet, "/api/v1/hosts", ""))["site_name"]; site != models.DefaultSiteName {
		t.Errorf("Expected default site name, got %v", site)
	}

	err := env.db.UpdateSettings(context.Background(), models.Settings{models.SettingSiteName: "Lab"})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if site := decode(t, do(t, mux, http.MethodGet, "/api/v1/hosts", ""))["site_name"]; site != "Lab" {
		t.Errorf("Expected site name Lab, got %v", site)
	}
}

func TestAdminSettingsRoundTripKeepsToken(t *testing.T) {
	env := setupTestEnv(t)
	mux := newTestMux(t, env)
	auth := []string{"Authorization", "Bearer " + adminToken}

	if w := do(t, mux, http.MethodPut, "/api/v1/admin/settings", `{"smtp_host":"mail"}`, auth...); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown key, got %d", w.Code)
	}

	w := do(t, mux, http.MethodPut, "/api/v1/admin/settings", `{"telegram_bot_token":"123:abc","telegram_chat_id":"42"}`, auth...)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}

	// write back exactly what GET returned, with one edit
	view := do(t, mux, http.MethodGet, "/api/v1/admin/settings", "", auth...).Body.String()
	view = strings.Replace(view, `"42"`, `"43"`, 1)
	if w = do(t, mux, http.MethodPut, "/api/v1/admin/settings", view, auth...); w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 when writing back the masked view, got %d: %s", w.Code, w.Body.String())
	}

	settings, err := env.db.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if settings[models.SettingTelegramBotToken] != "123:abc" {
		t.Errorf("Expected token to survive the round trip, got %q", settings[models.SettingTelegramBotToken])
	}
	if settings[models.SettingTelegramChatID] != "43" {
		t.Errorf("Expected chat id 43, got %q", settings[models.SettingTelegramChatID])
	}
}
