// Package web provides the HTTP server for the experience-degrader daemon:
// the experience page, status JSON, CSS variables and the mutation API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sweeney/experience-degrader/internal/journal"
	"github.com/sweeney/experience-degrader/internal/logic"
	"github.com/sweeney/experience-degrader/internal/status"
)

const (
	maxBodyBytes       = 4096
	defaultEventsLimit = 50
	maxEventsLimit     = 500
	defaultAmount      = 1
)

// Controller is the set of engine operations exposed over HTTP.
type Controller interface {
	UpdateScroll(progress float64)
	AddInteraction(amount int)
	AddDamage(amount int)
	CompleteCycle()
	StartTimeTracking()
	StopTimeTracking()
	Reset()
}

// EventLister returns the most recent journaled events, newest first.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithViewport mounts the native scroll websocket handler at /viewport.
func WithViewport(h http.Handler) Option {
	return func(s *Server) { s.viewport = h }
}

// WithJournal enables /events.json.
func WithJournal(l EventLister) Option {
	return func(s *Server) { s.journal = l }
}

// Server serves the experience page and API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctl        Controller
	logger     *zap.Logger
	viewport   http.Handler
	journal    EventLister
}

// New creates a Server that reads state from tracker and applies API
// mutations through ctl.
func New(addr string, tracker *status.Tracker, ctl Controller, opts ...Option) *Server {
	s := &Server{tracker: tracker, ctl: ctl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /degradation.css", s.handleCSS)

	mux.HandleFunc("POST /api/scroll", s.handleScroll)
	mux.HandleFunc("POST /api/interaction", s.handleInteraction)
	mux.HandleFunc("POST /api/damage", s.handleDamage)
	mux.HandleFunc("POST /api/cycle", s.handleMutation(ctl.CompleteCycle))
	mux.HandleFunc("POST /api/tracking/start", s.handleMutation(ctl.StartTimeTracking))
	mux.HandleFunc("POST /api/tracking/stop", s.handleMutation(ctl.StopTimeTracking))
	mux.HandleFunc("POST /api/reset", s.handleMutation(ctl.Reset))

	if s.viewport != nil {
		mux.Handle("GET /viewport", s.viewport)
	}
	if s.journal != nil {
		mux.HandleFunc("GET /events.json", s.handleEvents)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render index failed", zap.Error(err))
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

func (s *Server) handleCSS(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, formatCSS(logic.CSSVariables(snap.State)))
}

type scrollRequest struct {
	Progress *float64 `json:"progress"`
}

type amountRequest struct {
	Amount *int `json:"amount"`
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Progress == nil {
		http.Error(w, "progress is required", http.StatusBadRequest)
		return
	}
	s.ctl.UpdateScroll(*req.Progress)
	s.writeStatus(w)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.ctl.AddInteraction(amountOrDefault(req.Amount))
	s.writeStatus(w)
}

func (s *Server) handleDamage(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount := amountOrDefault(req.Amount)
	s.ctl.AddDamage(amount)
	s.logger.Debug("damage injected", zap.Int("amount", amount))
	s.writeStatus(w)
}

func (s *Server) handleMutation(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		s.writeStatus(w)
	}
}

type eventsResponse struct {
	Events []journal.Entry `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventsLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list journal failed", zap.Error(err))
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(eventsResponse{Events: entries})
}

// decode reads an optional JSON body into v. An empty body leaves v unchanged.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("bad request body", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func amountOrDefault(p *int) int {
	if p == nil {
		return defaultAmount
	}
	return *p
}

func formatCSS(vars []logic.CSSVariable) string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, v := range vars {
		fmt.Fprintf(&b, "  %s: %s;\n", v.Name, v.Value)
	}
	b.WriteString("}\n")
	return b.String()
}
