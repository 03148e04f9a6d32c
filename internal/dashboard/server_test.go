package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"launchwatch/config"
	"launchwatch/internal/events"
	"launchwatch/internal/metrics"
	"launchwatch/internal/models"
	"launchwatch/internal/monitor"
	"launchwatch/logger"
)

type fakeLister struct {
	records []models.AnnouncementRecord
	err     error
	limit   int
}

func (f *fakeLister) ListAnnouncements(_ context.Context, limit int) ([]models.AnnouncementRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type fakeStats struct{ stats models.MonitorStats }

func (f fakeStats) Snapshot() models.MonitorStats { return f.stats }

type fakeLoop struct{}

func (fakeLoop) Running() bool        { return true }
func (fakeLoop) State() monitor.State { return monitor.StateSleeping }

func newTestServer(t *testing.T, lister *fakeLister, bus *events.Bus) *Server {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{
		Enabled:         true,
		RefreshInterval: time.Second,
		MetricsHistory:  10,
		LogHistory:      10,
		TokensLimit:     2,
	}, Deps{
		Announcements: lister,
		Stats:         fakeStats{stats: models.MonitorStats{TotalSeen: 3, TotalAnnounced: 2, Running: true}},
		Loop:          fakeLoop{},
		Bus:           bus,
		Prometheus:    true,
	}, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter("launchwatch")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://10.0.0.5:8080":           "10.0.0.5:8080",
		"https://10.0.0.5":               "10.0.0.5:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}
	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, Deps{}, logger.Logger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server without error, got %v %v", srv, err)
	}
	if srv.Address() != "" {
		t.Fatal("nil server should have empty address")
	}
}

func TestNewServerRequiresReaders(t *testing.T) {
	if _, err := NewServer(config.DashboardConfig{Enabled: true}, Deps{}, logger.Logger()); err == nil {
		t.Fatal("expected error without readers")
	}
}

func TestTokensEndpoint(t *testing.T) {
	now := time.Now().UTC()
	lister := &fakeLister{records: []models.AnnouncementRecord{
		{ID: 3, IdentityKey: "0xc::c::c", DisplayName: "C", AnnouncedAt: now},
		{ID: 2, IdentityKey: "0xb::b::b", DisplayName: "B", AnnouncedAt: now.Add(-time.Minute)},
		{ID: 1, IdentityKey: "0xa::a::a", DisplayName: "A", AnnouncedAt: now.Add(-2 * time.Minute)},
	}}
	srv := newTestServer(t, lister, nil)

	rec := get(t, srv, "/api/tokens")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Success bool                        `json:"success"`
		Tokens  []models.AnnouncementRecord `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || len(body.Tokens) != 2 || body.Tokens[0].DisplayName != "C" {
		t.Fatalf("unexpected tokens payload: %+v", body)
	}
	if lister.limit != 2 {
		t.Fatalf("expected configured limit 2, got %d", lister.limit)
	}

	get(t, srv, "/api/tokens?limit=1")
	if lister.limit != 1 {
		t.Fatalf("expected query limit 1, got %d", lister.limit)
	}
	if rec := get(t, srv, "/api/tokens?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestTokensEndpointStoreError(t *testing.T) {
	srv := newTestServer(t, &fakeLister{err: errors.New("db gone")}, nil)
	if rec := get(t, srv, "/api/tokens"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeLister{}, nil)

	rec := get(t, srv, "/api/stats")
	if !strings.Contains(rec.Body.String(), `"total_tokens_posted":2`) || !strings.Contains(rec.Body.String(), `"state":"sleeping"`) {
		t.Fatalf("unexpected stats body: %s", rec.Body.String())
	}

	rec = get(t, srv, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"monitor":"sleeping"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpointReturnsEmittedMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeLister{}, nil)
	metrics.EmitMetric(logger.Logger(), "monitor", "announcements", 5, "counter", nil)

	rec := get(t, srv, "/api/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "announcements") {
		t.Fatalf("unexpected metrics response: %s", rec.Body.String())
	}
	if rec := get(t, srv, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("prometheus endpoint status %d", rec.Code)
	}
}

func TestIndexRenders(t *testing.T) {
	srv := newTestServer(t, &fakeLister{}, nil)
	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "launchwatch") {
		t.Fatalf("unexpected index response: %d", rec.Code)
	}
	if rec := get(t, srv, "/assets/app.js"); rec.Code != http.StatusOK {
		t.Fatalf("asset status %d", rec.Code)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	bus := events.NewBus(nil)
	srv := newTestServer(t, &fakeLister{}, bus)
	router, err := srv.buildRouter("launchwatch")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting events.Event
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Type != events.TypeConnected {
		t.Fatalf("expected connected greeting, got %s", greeting.Type)
	}

	bus.Publish(events.New(events.TypeNewToken, models.AnnouncementRecord{IdentityKey: "0xabc::x::X", DisplayName: "X"}))

	var got struct {
		Type events.Type               `json:"type"`
		Data models.AnnouncementRecord `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != events.TypeNewToken || got.Data.DisplayName != "X" {
		t.Fatalf("unexpected event %+v", got)
	}
}
