// Package api serves the HTTP control surface over the session registry
// and rotation playlist.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sebas/grav/internal/grav/media"
	"github.com/sebas/grav/internal/grav/metrics"
	"github.com/sebas/grav/internal/grav/rotation"
	"github.com/sebas/grav/internal/grav/session"
)

// DriverState reports the iteration driver for /stats.
// Implemented by driver.Driver.
type DriverState interface {
	Running() bool
	Passes() uint64
	IdlePasses() uint64
}

// SourceLister lists live stream sources.
// Implemented by media.SourceTable.
type SourceLister interface {
	List() []media.SourceInfo
	Count() int
}

// Options wires the server to the rest of the process.
type Options struct {
	Registry  *session.Registry
	Playlist  *rotation.Playlist
	Driver    DriverState
	Video     SourceLister
	Audio     SourceLister
	Metrics   *metrics.Metrics
	Advertise string // origin address for exported SDP
}

// Server provides the HTTP control API (headless, API only)
type Server struct {
	addr       string
	opts       Options
	router     chi.Router
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a new API server listening on addr.
func NewServer(addr string, opts Options) *Server {
	s := &Server{
		addr:      addr,
		opts:      opts,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Route("/api/v1", func(r chi.Router) {
		// Health and stats
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		// Sessions
		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{address}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Put("/enabled", s.handleSetEnabled)
			r.Post("/toggle", s.handleToggle)
			r.Put("/encryption", s.handleSetEncryption)
			r.Delete("/encryption", s.handleClearEncryption)
			r.Get("/sdp", s.handleSDP)
		})

		// Sources
		r.Get("/sources", s.handleSources)

		// Rotation
		r.Get("/rotation", s.handleRotation)
		r.Post("/rotation/candidates", s.handleAddCandidate)
		r.Delete("/rotation/candidates/{address}", s.handleRemoveCandidate)
		r.Post("/rotation/advance", s.handleAdvance)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler(s.updateGauges))
	}
	s.router = r

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on lis until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	slog.Info("[API] Starting HTTP API server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("[API] Shutdown incomplete", "error", err)
			return s.httpServer.Close()
		}
		slog.Info("[API] HTTP API server stopped")
		return nil
	}
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.opts.Driver != nil && !s.opts.Driver.Running() {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"uptime": int64(time.Since(s.startTime).Seconds()),
	})
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Sessions struct {
		Video int `json:"video"`
		Audio int `json:"audio"`
	} `json:"sessions"`
	Sources struct {
		Video int `json:"video"`
		Audio int `json:"audio"`
	} `json:"sources"`
	Driver struct {
		Running    bool   `json:"running"`
		Passes     uint64 `json:"passes"`
		IdlePasses uint64 `json:"idle_passes"`
	} `json:"driver"`
	Rotation RotationResponse `json:"rotation"`
	Uptime   int64            `json:"uptime"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	resp.Sessions.Video = s.opts.Registry.VideoCount()
	resp.Sessions.Audio = s.opts.Registry.AudioCount()
	if s.opts.Video != nil {
		resp.Sources.Video = s.opts.Video.Count()
	}
	if s.opts.Audio != nil {
		resp.Sources.Audio = s.opts.Audio.Count()
	}
	if d := s.opts.Driver; d != nil {
		resp.Driver.Running = d.Running()
		resp.Driver.Passes = d.Passes()
		resp.Driver.IdlePasses = d.IdlePasses()
	}
	resp.Rotation = s.rotationState()
	resp.Uptime = int64(time.Since(s.startTime).Seconds())
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateGauges() {
	m := s.opts.Metrics
	m.SetSessions(s.opts.Registry.VideoCount(), s.opts.Registry.AudioCount())
	var video, audio int
	if s.opts.Video != nil {
		video = s.opts.Video.Count()
	}
	if s.opts.Audio != nil {
		audio = s.opts.Audio.Count()
	}
	m.SetSources(video, audio)
}

// --- Sessions ---

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := s.opts.Registry.Entries()
	if entries == nil {
		entries = []session.EntryInfo{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	const op = "create"
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, op, "invalid JSON body")
		return
	}
	kind, err := session.ParseKind(req.Kind)
	if err != nil {
		s.badRequest(w, op, err.Error())
		return
	}
	if _, err := media.ParseAddress(req.Address); err != nil {
		s.badRequest(w, op, err.Error())
		return
	}

	err = s.opts.Registry.Create(req.Address, kind)
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.opts.Registry.LookupKind(req.Address, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.lookup(w, r, "lookup")
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// lookup resolves the {address} path parameter to an entry. An optional
// ?kind= query selects the entry of that kind at a shared address.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, op string) (session.EntryInfo, bool) {
	addr, ok := s.address(w, r, op)
	if !ok {
		return session.EntryInfo{}, false
	}
	kind, hasKind, ok := s.kind(w, r, op)
	if !ok {
		return session.EntryInfo{}, false
	}

	var info session.EntryInfo
	var err error
	if hasKind {
		info, err = s.opts.Registry.LookupKind(addr, kind)
	} else {
		info, err = s.opts.Registry.Lookup(addr)
	}
	if err != nil {
		s.writeError(w, err)
		return session.EntryInfo{}, false
	}
	return info, true
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	const op = "remove"
	addr, ok := s.address(w, r, op)
	if !ok {
		return
	}
	kind, hasKind, ok := s.kind(w, r, op)
	if !ok {
		return
	}
	var err error
	if hasKind {
		err = s.opts.Registry.RemoveKind(addr, kind)
	} else {
		err = s.opts.Registry.Remove(addr)
	}
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnabledRequest is the body of PUT /sessions/{address}/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	const op = "set_enabled"
	addr, ok := s.address(w, r, op)
	if !ok {
		return
	}
	var req EnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.badRequest(w, op, "body must be {\"enabled\": bool}")
		return
	}
	err := s.opts.Registry.SetEnabled(addr, *req.Enabled)
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "enabled": *req.Enabled})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	const op = "toggle"
	addr, ok := s.address(w, r, op)
	if !ok {
		return
	}
	enabled, err := s.opts.Registry.IsEnabled(addr)
	if err == nil {
		enabled = !enabled
		err = s.opts.Registry.SetEnabled(addr, enabled)
	}
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "enabled": enabled})
}

// EncryptionRequest is the body of PUT /sessions/{address}/encryption.
type EncryptionRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleSetEncryption(w http.ResponseWriter, r *http.Request) {
	const op = "set_encryption"
	addr, ok := s.address(w, r, op)
	if !ok {
		return
	}
	var req EncryptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.badRequest(w, op, "body must carry a non-empty key")
		return
	}
	err := s.opts.Registry.SetEncryptionKey(addr, req.Key)
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "encryption_enabled": true})
}

func (s *Server) handleClearEncryption(w http.ResponseWriter, r *http.Request) {
	const op = "clear_encryption"
	addr, ok := s.address(w, r, op)
	if !ok {
		return
	}
	err := s.opts.Registry.DisableEncryption(addr)
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "encryption_enabled": false})
}

func (s *Server) handleSDP(w http.ResponseWriter, r *http.Request) {
	info, ok := s.lookup(w, r, "sdp")
	if !ok {
		return
	}
	body, err := media.Describe(info, s.opts.Advertise)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/sdp")
	_, _ = w.Write(body)
}

// --- Sources ---

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	out := []media.SourceInfo{}
	if s.opts.Video != nil {
		out = append(out, s.opts.Video.List()...)
	}
	if s.opts.Audio != nil {
		out = append(out, s.opts.Audio.List()...)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// --- Rotation ---

// RotationResponse is the body of GET /rotation.
type RotationResponse struct {
	Candidates []string `json:"candidates"`
	Current    string   `json:"current"`
	Last       string   `json:"last"`
	Rotations  uint64   `json:"rotations"`
}

func (s *Server) rotationState() RotationResponse {
	p := s.opts.Playlist
	if p == nil {
		return RotationResponse{Candidates: []string{}}
	}
	resp := RotationResponse{
		Candidates: p.Candidates(),
		Current:    p.Current(),
		Last:       p.Last(),
		Rotations:  p.Rotations(),
	}
	if resp.Candidates == nil {
		resp.Candidates = []string{}
	}
	return resp
}

func (s *Server) handleRotation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rotationState())
}

// CandidateRequest is the body of POST /rotation/candidates.
type CandidateRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	const op = "add_candidate"
	var req CandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, op, "invalid JSON body")
		return
	}
	if _, err := media.ParseAddress(req.Address); err != nil {
		s.badRequest(w, op, err.Error())
		return
	}
	err := s.opts.Playlist.AddCandidate(req.Address)
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.rotationState())
}

func (s *Server) handleRemoveCandidate(w http.ResponseWriter, r *http.Request) {
	const op = "remove_candidate"
	addr, ok := s.address(w, r, op)
	if !ok {
		return
	}
	err := s.opts.Playlist.RemoveCandidate(addr)
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.rotationState())
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	const op = "advance"
	err := s.opts.Playlist.Advance()
	s.observe(op, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.rotationState())
}

// --- Helpers ---

// address returns the unescaped {address} path parameter.
func (s *Server) address(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	addr, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || addr == "" {
		s.badRequest(w, op, "invalid address in path")
		return "", false
	}
	return addr, true
}

// kind parses the optional ?kind= query.
func (s *Server) kind(w http.ResponseWriter, r *http.Request, op string) (session.Kind, bool, bool) {
	v := r.URL.Query().Get("kind")
	if v == "" {
		return 0, false, true
	}
	k, err := session.ParseKind(v)
	if err != nil {
		s.badRequest(w, op, err.Error())
		return 0, false, false
	}
	return k, true, true
}

func (s *Server) observe(op string, err error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveControl(op, err)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, op, msg string) {
	s.observe(op, errors.New(msg))
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, rotation.ErrUnknownCandidate):
		return http.StatusNotFound
	case errors.Is(err, session.ErrDuplicateAddress), errors.Is(err, rotation.ErrDuplicateCandidate):
		return http.StatusConflict
	case errors.Is(err, session.ErrInitialisationFailed):
		return http.StatusBadGateway
	case errors.Is(err, media.ErrInvalidAddress), errors.Is(err, rotation.ErrEmptyCandidate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("[API] Request failed", "status", status, "error", err)
	} else {
		slog.Debug("[API] Request rejected", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode JSON", "error", err)
	}
}
