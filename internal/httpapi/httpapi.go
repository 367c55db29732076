// Package httpapi exposes the game over JSON/HTTP.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aloksahay/warhead/internal/auth"
	"github.com/aloksahay/warhead/internal/logging"
	"github.com/aloksahay/warhead/internal/realtime"
	"github.com/aloksahay/warhead/pkg/core"
)

const maxBodyBytes = 64 * 1024

// Game is the subset of game.Service the API calls.
type Game interface {
	RegisterPlayer(ctx context.Context, playerID, nickname string) (core.Player, error)
	ReportLocation(ctx context.Context, playerID string, lat, lon float64) ([]core.NearbyPlayer, error)
	ListMissiles(ctx context.Context, ownerID string) ([]core.Missile, error)
	LaunchMissile(ctx context.Context, requesterID string, missileID uint, targetID string) (core.MissileImpact, error)
}

// API serves the /api routes.
type API struct {
	game     Game
	verifier auth.Verifier
	log      logging.Logger
	limits   *clientLimits
	origins  []string
}

// New creates an API.
func New(game Game, verifier auth.Verifier, log logging.Logger, opts ...Option) *API {
	a := &API{game: game, verifier: verifier, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes mounts every route on mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.health)
	mux.Handle("POST /api/players", a.authenticated(a.registerPlayer))
	mux.Handle("POST /api/location", a.authenticated(a.reportLocation))
	mux.Handle("GET /api/missiles", a.authenticated(a.listMissiles))
	mux.Handle("POST /api/missiles/launch", a.authenticated(a.launchMissile))
}

// Handler returns a mux with every route mounted behind CORS, per-client
// rate limiting and request logging. A non-nil stream is mounted at
// GET /api/realtime.
func (a *API) Handler(stream http.Handler) http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	if stream != nil {
		mux.Handle("GET "+realtime.Path, stream)
	}
	return a.logRequests(a.cors(a.limitRate(mux)))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, principal string)

func (a *API) authenticated(next authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, fmt.Errorf("%w: no authorization header", core.ErrUnauthenticated))
			return
		}
		principal, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, principal)
	})
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Nickname string `json:"nickname"`
}

func (a *API) registerPlayer(w http.ResponseWriter, r *http.Request, principal string) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := a.game.RegisterPlayer(r.Context(), principal, req.Nickname)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"player": p})
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type locationResponse struct {
	Success       bool                `json:"success"`
	NearbyPlayers []core.NearbyPlayer `json:"nearby_players"`
}

func (a *API) reportLocation(w http.ResponseWriter, r *http.Request, principal string) {
	var req locationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, fmt.Errorf("%w: latitude and longitude", core.ErrMissingField))
		return
	}

	nearby, err := a.game.ReportLocation(r.Context(), principal, *req.Latitude, *req.Longitude)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if nearby == nil {
		nearby = []core.NearbyPlayer{}
	}
	writeJSON(w, http.StatusOK, locationResponse{Success: true, NearbyPlayers: nearby})
}

func (a *API) listMissiles(w http.ResponseWriter, r *http.Request, principal string) {
	missiles, err := a.game.ListMissiles(r.Context(), principal)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if missiles == nil {
		missiles = []core.Missile{}
	}
	writeJSON(w, http.StatusOK, missiles)
}

type launchRequest struct {
	MissileID *uint  `json:"missile_id"`
	TargetID  string `json:"target_id"`
}

type launchResponse struct {
	Success   bool   `json:"success"`
	MissileID uint   `json:"missile_id"`
	ImpactID  uint   `json:"impact_id"`
	Damage    int    `json:"damage"`
	TargetID  string `json:"target_id"`
}

func (a *API) launchMissile(w http.ResponseWriter, r *http.Request, principal string) {
	var req launchRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MissileID == nil || req.TargetID == "" {
		writeError(w, fmt.Errorf("%w: missile_id and target_id", core.ErrMissingField))
		return
	}

	impact, err := a.game.LaunchMissile(r.Context(), principal, *req.MissileID, req.TargetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, launchResponse{
		Success:   true,
		MissileID: impact.MissileID,
		ImpactID:  impact.ID,
		Damage:    impact.Damage,
		TargetID:  impact.TargetID,
	})
}

// fail logs infrastructure failures before answering.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := statusFor(err); status >= http.StatusInternalServerError {
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrValidation, err)
	}
	return nil
}

// statusFor maps an error class to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets WebSocket upgrades through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
