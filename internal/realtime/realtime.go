// Package realtime streams a player's events over a WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aloksahay/warhead/internal/auth"
	"github.com/aloksahay/warhead/internal/events"
	"github.com/aloksahay/warhead/internal/logging"
)

// Path is where Handler is mounted.
const Path = "/api/realtime"

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Frame types.
const (
	TypeImpact  = "impact"
	TypePlayer  = "player"
	TypeMissile = "missile"
)

// Frame is one event on the wire.
type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Payload any    `json:"payload"`
}

// FrameFor converts an event to its wire frame. It returns false for events
// with no payload.
func FrameFor(e events.Event) (Frame, bool) {
	f := Frame{ID: e.ID.String(), Seq: e.Seq}
	switch {
	case e.Kind == events.KindImpactOccurred && e.Impact != nil:
		f.Type, f.Payload = TypeImpact, e.Impact
	case e.Kind == events.KindPlayerUpdated && e.Player != nil:
		f.Type, f.Payload = TypePlayer, e.Player
	case e.Kind == events.KindMissileUpdated && e.Missile != nil:
		f.Type, f.Payload = TypeMissile, e.Missile
	default:
		return Frame{}, false
	}
	return f, true
}

// Subscriber opens event subscriptions for an authenticated principal.
type Subscriber interface {
	Subscribe(principalID string, kinds ...events.Kind) (*events.Subscription, error)
}

// OriginAllowed reports whether origin is in allowed. An empty list or a "*"
// entry allows every origin.
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	origin = strings.TrimSuffix(origin, "/")
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins restricts which browser origins may open a stream.
// Requests without an Origin header are not browsers and always pass.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// Server upgrades authenticated requests and relays their events.
type Server struct {
	verifier auth.Verifier
	subs     Subscriber
	log      logging.Logger
	origins  []string
	upgrader websocket.Upgrader
}

// NewServer creates a Server.
func NewServer(verifier auth.Verifier, subs Subscriber, log logging.Logger, opts ...Option) *Server {
	s := &Server{
		verifier: verifier,
		subs:     subs,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || OriginAllowed(s.origins, origin)
}

// token reads the credential from the Authorization header, or from the
// access_token query parameter for browsers that cannot set headers.
func token(r *http.Request) string {
	if tok, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// Handler serves GET /api/realtime.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.checkOrigin(r) {
			http.Error(rw, "origin not allowed", http.StatusForbidden)
			return
		}

		principal, err := s.verifier.Verify(r.Context(), token(r))
		if err != nil {
			http.Error(rw, "unauthenticated", http.StatusUnauthorized)
			return
		}

		sub, err := s.subs.Subscribe(principal, events.AllKinds...)
		if err != nil {
			s.log.Warn("realtime subscribe failed", "player", principal, "error", err)
			http.Error(rw, "unavailable", http.StatusServiceUnavailable)
			return
		}
		defer sub.Close()

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.log.Debug("realtime client connected", "player", principal, "remote", r.RemoteAddr)
		reason := s.stream(conn, sub)
		s.log.Debug("realtime client disconnected", "player", principal, "reason", reason)
	}
}

// stream relays events until the client goes away or the subscription ends.
func (s *Server) stream(conn *websocket.Conn, sub *events.Subscription) string {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader: only control frames matter, everything else is discarded.
	go func() {
		defer cancel()
		conn.SetReadLimit(4 * 1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client closed"

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return "ping failed"
			}

		case e, ok := <-sub.Events():
			if !ok {
				closeWith(conn, sub.Err())
				return "subscription ended"
			}
			f, ok := FrameFor(e)
			if !ok {
				continue
			}
			if err := writeJSON(conn, f); err != nil {
				return "write failed"
			}
		}
	}
}

func closeWith(conn *websocket.Conn, err error) {
	code, text := websocket.CloseNormalClosure, "bye"
	switch {
	case errors.Is(err, events.ErrSlowConsumer):
		code, text = websocket.CloseTryAgainLater, "slow consumer"
	case errors.Is(err, events.ErrBusClosed):
		code, text = websocket.CloseGoingAway, "shutting down"
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
