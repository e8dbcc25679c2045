// Package dashboard serves the live analytics table over HTTP: a
// server-rendered overview page plus a JSON API for scripts.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rowanbeckett/greekwatch/internal/engine"
	"github.com/rowanbeckett/greekwatch/internal/models"
)

//go:embed web/templates/*
var templateFS embed.FS

//go:embed web/static/*
var staticFS embed.FS

// Server holds the most recent analytics table and serves it. UpdateTable
// and the handlers may run concurrently.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	logger    *logrus.Logger
	port      int
	authToken string

	mu    sync.RWMutex
	table engine.AnalyticsTable
}

type Config struct {
	Port      int
	AuthToken string
}

func NewServer(cfg Config, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

// UpdateTable replaces the table served to clients. Its signature matches
// what the processor publishes on engine.TopicTableUpdated, so it can be
// subscribed to the event bus directly.
func (s *Server) UpdateTable(table engine.AnalyticsTable) {
	s.mu.Lock()
	s.table = table
	s.mu.Unlock()
}

func (s *Server) latestTable() engine.AnalyticsTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	staticRoot, err := fs.Sub(staticFS, "web/static")
	if err != nil {
		s.logger.WithError(err).Error("Failed to mount static assets")
	} else {
		s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticRoot))))
	}

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/api/table", s.handleGetTable)
	s.router.Get("/api/errors", s.handleGetErrors)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health checks and static assets carry no position data.
		if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(templateFS, "web/templates/dashboard.html")
	if err != nil {
		s.logger.WithError(err).Error("Failed to parse dashboard template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := buildOverview(s.latestTable())
	if err := tmpl.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("Failed to execute dashboard template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.latestTable()); err != nil {
		s.logger.WithError(err).Error("Failed to encode analytics table")
	}
}

// handleGetErrors serves the current cycle's feed errors on their own,
// with the errors array always present so scripts can poll it blindly.
func (s *Server) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	table := s.latestTable()
	errs := table.Errors
	if errs == nil {
		errs = []engine.ErrorEntry{}
	}

	payload := struct {
		CycleID     string              `json:"cycle_id"`
		GeneratedAt time.Time           `json:"generated_at"`
		Errors      []engine.ErrorEntry `json:"errors"`
	}{table.CycleID, table.GeneratedAt, errs}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode feed errors")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}

// overviewData is the template payload for the overview page.
type overviewData struct {
	HasData        bool
	GeneratedAt    string
	CycleID        string
	Rows           []rowView
	Errors         []errorView
	DroppedStale   uint64
	IgnoredUnknown uint64
}

type rowView struct {
	DealID        string
	Instrument    string
	Direction     string
	Size          string
	Strike        string
	Right         string
	Expiry        string
	DTE           int
	Vol           string
	Delta         string
	Theta         string
	PositionDelta string
	Status        string
	StatusClass   string
}

type errorView struct {
	ContractID string
	Reason     string
	Detail     string
}

func buildOverview(table engine.AnalyticsTable) overviewData {
	data := overviewData{
		HasData:        !table.GeneratedAt.IsZero(),
		CycleID:        table.CycleID,
		DroppedStale:   table.DroppedStale,
		IgnoredUnknown: table.IgnoredUnknown,
	}
	if data.HasData {
		data.GeneratedAt = table.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	for _, row := range table.Rows {
		data.Rows = append(data.Rows, buildRowView(row, table.GeneratedAt))
	}
	for _, e := range table.Errors {
		data.Errors = append(data.Errors, errorView{
			ContractID: e.ContractID,
			Reason:     string(e.Reason),
			Detail:     e.Detail,
		})
	}
	return data
}

func buildRowView(row engine.Row, at time.Time) rowView {
	c := row.Contract
	v := rowView{
		DealID:     c.ID,
		Instrument: c.InstrumentName,
		Direction:  string(c.Direction),
		Size:       strconv.FormatFloat(c.Size, 'f', -1, 64),
		Strike:     strconv.FormatFloat(c.Strike, 'f', -1, 64),
		Right:      strings.ToUpper(string(c.Right)),
		Expiry:     strings.ToUpper(c.Expiry.Format("2-Jan-06")),
		DTE:        c.DaysToExpiry(at),
	}

	if !row.Result.Available {
		v.Vol, v.Delta, v.Theta, v.PositionDelta = "N/A", "N/A", "N/A", "N/A"
		v.Status = unavailableStatus(row.Result)
		v.StatusClass = "unavailable"
		return v
	}

	v.Vol = fmt.Sprintf("%.2f%%", row.Result.ImpliedVol*100)
	v.Delta = fmt.Sprintf("%.4f", row.Result.Delta)
	v.Theta = fmt.Sprintf("%.4f", row.Result.Theta)
	v.PositionDelta = fmt.Sprintf("%+.4f", row.PositionDelta)
	if row.Stale {
		v.Status = "STALE"
		v.StatusClass = "stale"
	} else {
		v.Status = "OK"
		v.StatusClass = "ok"
	}
	return v
}

func unavailableStatus(res models.AnalyticsResult) string {
	if res.Detail != "" {
		return fmt.Sprintf("N/A (%s)", res.Detail)
	}
	return fmt.Sprintf("N/A (%s)", res.Reason)
}
