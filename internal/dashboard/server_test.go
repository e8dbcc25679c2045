package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rowanbeckett/greekwatch/internal/engine"
	"github.com/rowanbeckett/greekwatch/internal/models"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewServer(cfg, logger)
}

func doGet(t *testing.T, s *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleContract(id string) models.Contract {
	return models.Contract{
		ID:             id,
		Epic:           "OP.D.SPX1.6100C.IP",
		InstrumentName: "US 500 6100 CALL ($10)",
		UnderlyingEpic: "IX.D.SPTRD.DAILY.IP",
		Right:          models.RightCall,
		Strike:         6100,
		Expiry:         time.Date(2025, time.September, 19, 23, 59, 59, 0, time.UTC),
		Direction:      models.DirectionSell,
		Size:           2,
		Currency:       "USD",
	}
}

func sampleTable() engine.AnalyticsTable {
	at := time.Date(2025, time.June, 2, 10, 30, 0, 0, time.UTC)

	ok := engine.Row{
		Contract: sampleContract("DIAAAA1"),
		Result: models.AnalyticsResult{
			ContractID: "DIAAAA1",
			Available:  true,
			ImpliedVol: 0.1852,
			Delta:      0.5422,
			Theta:      -0.0176,
			ComputedAt: at,
		},
		SnapshotAt:    at,
		PositionDelta: -1.0844,
	}

	stale := engine.Row{
		Contract: sampleContract("DIAAAA2"),
		Result: models.AnalyticsResult{
			ContractID: "DIAAAA2",
			Available:  true,
			ImpliedVol: 0.2240,
			Delta:      -0.3100,
			Theta:      -0.0098,
			ComputedAt: at.Add(-2 * time.Minute),
		},
		SnapshotAt:    at.Add(-2 * time.Minute),
		Stale:         true,
		PositionDelta: 0.6200,
	}

	missing := engine.Row{
		Contract: sampleContract("DIAAAA3"),
		Result:   models.Unavailable("DIAAAA3", at, models.ReasonNoMarketData, "no quote accepted yet"),
	}

	return engine.AnalyticsTable{
		Rows: []engine.Row{ok, stale, missing},
		Errors: []engine.ErrorEntry{
			{ContractID: "DIAAAA4", Reason: models.ReasonInstrumentParse, Detail: `unrecognised instrument name "Gold Knockout"`, At: at},
		},
		GeneratedAt:    at,
		CycleID:        "cycle-42",
		DroppedStale:   2,
		IgnoredUnknown: 1,
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080, AuthToken: "sekrit"})

	tests := []struct {
		name       string
		path       string
		headers    map[string]string
		wantStatus int
	}{
		{
			name:       "dashboard without token",
			path:       "/",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "api without token",
			path:       "/api/table",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong token",
			path:       "/",
			headers:    map[string]string{"X-Auth-Token": "guess"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "header token",
			path:       "/",
			headers:    map[string]string{"X-Auth-Token": "sekrit"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "query token",
			path:       "/?token=sekrit",
			wantStatus: http.StatusOK,
		},
		{
			name:       "health exempt from auth",
			path:       "/health",
			wantStatus: http.StatusOK,
		},
		{
			name:       "static assets exempt from auth",
			path:       "/static/style.css",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, s, tt.path, tt.headers)
			if rec.Code != tt.wantStatus {
				t.Errorf("GET %s status = %d, expected %d", tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestNoAuthTokenDisablesAuth(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})

	rec := doGet(t, s, "/", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET / status = %d, expected %d", rec.Code, http.StatusOK)
	}
}

func TestGetTableRoundTrip(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})
	s.UpdateTable(sampleTable())

	rec := doGet(t, s, "/api/table", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/table status = %d, expected %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, expected application/json", ct)
	}

	var got engine.AnalyticsTable
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode table: %v", err)
	}

	if got.CycleID != "cycle-42" {
		t.Errorf("CycleID = %q, expected cycle-42", got.CycleID)
	}
	if len(got.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(got.Rows))
	}
	if got.Rows[0].Contract.ID != "DIAAAA1" {
		t.Errorf("Rows[0].Contract.ID = %q, expected DIAAAA1", got.Rows[0].Contract.ID)
	}
	if got.Rows[0].Result.Delta != 0.5422 {
		t.Errorf("Rows[0].Result.Delta = %v, expected 0.5422", got.Rows[0].Result.Delta)
	}
	if !got.Rows[1].Stale {
		t.Error("Rows[1] should be stale")
	}
	if got.Rows[2].Result.Available {
		t.Error("Rows[2] should be unavailable")
	}
	if got.Rows[2].Result.Reason != models.ReasonNoMarketData {
		t.Errorf("Rows[2].Result.Reason = %q, expected %q", got.Rows[2].Result.Reason, models.ReasonNoMarketData)
	}
	if got.DroppedStale != 2 {
		t.Errorf("DroppedStale = %d, expected 2", got.DroppedStale)
	}
}

func TestGetTableBeforeFirstCycle(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})

	rec := doGet(t, s, "/api/table", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/table status = %d, expected %d", rec.Code, http.StatusOK)
	}

	var got engine.AnalyticsTable
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode table: %v", err)
	}
	if len(got.Rows) != 0 {
		t.Errorf("Expected empty table before first cycle, got %d rows", len(got.Rows))
	}
}

func TestGetErrors(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})
	s.UpdateTable(sampleTable())

	rec := doGet(t, s, "/api/errors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/errors status = %d, expected %d", rec.Code, http.StatusOK)
	}

	var got struct {
		CycleID string              `json:"cycle_id"`
		Errors  []engine.ErrorEntry `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode errors: %v", err)
	}
	if got.CycleID != "cycle-42" {
		t.Errorf("CycleID = %q, expected cycle-42", got.CycleID)
	}
	if len(got.Errors) != 1 {
		t.Fatalf("Expected 1 error entry, got %d", len(got.Errors))
	}
	if got.Errors[0].ContractID != "DIAAAA4" || got.Errors[0].Reason != models.ReasonInstrumentParse {
		t.Errorf("Unexpected error entry: %+v", got.Errors[0])
	}
}

func TestGetErrorsEmptyArray(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})

	rec := doGet(t, s, "/api/errors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/errors status = %d, expected %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"errors":[]`) {
		t.Errorf("Errors should encode as an empty array, got %s", rec.Body.String())
	}
}

func TestDashboardPage(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})

	rec := doGet(t, s, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, expected %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "waiting for the first feed cycle") {
		t.Error("Empty dashboard should show the waiting banner")
	}

	s.UpdateTable(sampleTable())
	body := doGet(t, s, "/", nil).Body.String()

	for _, want := range []string{
		"cycle-42",
		"US 500 6100 CALL ($10)",
		"19-SEP-25",
		"18.52%",
		"0.5422",
		"-1.0844",
		"STALE",
		"N/A (no quote accepted yet)",
		"unrecognised instrument name",
		"dropped stale 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Dashboard body missing %q", want)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080, AuthToken: "sekrit"})

	rec := doGet(t, s, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, expected %d", rec.Code, http.StatusOK)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status = %v, expected healthy", health["status"])
	}
}

func TestStaticAssetsServed(t *testing.T) {
	s := newTestServer(t, Config{Port: 8080})

	rec := doGet(t, s, "/static/style.css", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /static/style.css status = %d, expected %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "table") {
		t.Error("Stylesheet body looks wrong")
	}
}
