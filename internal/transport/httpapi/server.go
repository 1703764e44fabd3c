// Package httpapi serves the lobby read and write endpoints over JSON.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"musicduel.ai/internal/platform/ratelimiter"
	"musicduel.ai/internal/protocol"
	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/ledger"
)

// Lobbies is the engine surface the API drives.
type Lobbies interface {
	Snapshot(ctx context.Context, lobbyID, address string) (engine.Snapshot, error)
	Join(ctx context.Context, lobbyID, session string) (string, error)
	Leave(ctx context.Context, lobbyID, session string) error
	Vote(ctx context.Context, lobbyID, turnID, side, address string) (ledger.Tally, error)
	PlaceBet(ctx context.Context, lobbyID string, epochID int64, side string, amount int64, address string) (ledger.Stake, error)
	MarkClaimed(ctx context.Context, lobbyID string, epochID int64, address string) (ledger.Claimable, error)
	Reset(ctx context.Context, lobbyID string, clearPresence bool) (string, error)
	Start(ctx context.Context, lobbyID string) error
}

// RequestObserver counts responses per route.
type RequestObserver interface {
	ObserveRequest(route string, status int)
}

type Config struct {
	// AdminToken gates the admin routes. When empty they are reachable from loopback only.
	AdminToken string
	// DefaultLobbyID serves admin calls that omit a lobby.
	DefaultLobbyID string
	// Limiter throttles write routes per client address. Nil disables throttling.
	Limiter      *ratelimiter.Keyed
	Observer     RequestObserver
	Logger       *log.Logger
	MaxBodyBytes int64
	Now          func() time.Time
}

type Server struct {
	lobbies Lobbies
	cfg     Config
}

func NewServer(l Lobbies, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 * 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{lobbies: l, cfg: cfg}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /v1/lobbies/{lobby}/snapshot", s.route("snapshot", false, s.handleSnapshot))
	mux.HandleFunc("POST /v1/lobbies/{lobby}/join", s.route("join", true, s.handleJoin))
	mux.HandleFunc("POST /v1/lobbies/{lobby}/leave", s.route("leave", true, s.handleLeave))
	mux.HandleFunc("POST /v1/lobbies/{lobby}/vote", s.route("vote", true, s.handleVote))
	mux.HandleFunc("POST /v1/lobbies/{lobby}/bet", s.route("bet", true, s.handleBet))
	mux.HandleFunc("POST /v1/lobbies/{lobby}/claim", s.route("claim", true, s.handleClaim))

	mux.HandleFunc("POST /admin/v1/reset", s.admin("reset", s.handleReset))
	mux.HandleFunc("POST /admin/v1/start", s.admin("start", s.handleStart))
	mux.HandleFunc("POST /admin/v1/lobbies/{lobby}/reset", s.admin("reset", s.handleReset))
	mux.HandleFunc("POST /admin/v1/lobbies/{lobby}/start", s.admin("start", s.handleStart))
}

type handlerFunc func(r *http.Request, body []byte) (any, error)

func (s *Server) route(name string, limited bool, h handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if limited && !s.cfg.Limiter.Allow(clientIP(r), s.cfg.Now()) {
			s.writeError(rw, name, http.StatusTooManyRequests, protocol.ErrRateLimit, "too many requests")
			return
		}
		s.serve(rw, r, name, h)
	}
}

func (s *Server) admin(name string, h handlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.fail(rw, "admin_"+name, engine.ErrUnauthorized)
			return
		}
		s.serve(rw, r, "admin_"+name, h)
	}
}

func (s *Server) serve(rw http.ResponseWriter, r *http.Request, name string, h handlerFunc) {
	var body []byte
	if r.Method == http.MethodPost {
		b, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			s.fail(rw, name, protocol.ErrMalformed)
			return
		}
		body = b
	}
	out, err := h(r, body)
	if err != nil {
		s.fail(rw, name, err)
		return
	}
	s.writeJSON(rw, name, http.StatusOK, out)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		return isLoopbackRemote(r.RemoteAddr)
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.cfg.AdminToken)) == 1
}

func (s *Server) fail(rw http.ResponseWriter, route string, err error) {
	code, status := protocol.CodeFor(err)
	msg := err.Error()
	if status >= 500 {
		s.cfg.Logger.Printf("route=%s error: %v", route, err)
		msg = "internal error"
	}
	s.writeError(rw, route, status, code, msg)
}

func (s *Server) writeError(rw http.ResponseWriter, route string, status int, code, msg string) {
	s.writeJSON(rw, route, status, protocol.ErrorResponse{Code: code, Message: msg})
}

func (s *Server) writeJSON(rw http.ResponseWriter, route string, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveRequest(route, status)
	}
}

func (s *Server) handleSnapshot(r *http.Request, _ []byte) (any, error) {
	return s.lobbies.Snapshot(r.Context(), r.PathValue("lobby"), strings.TrimSpace(r.URL.Query().Get("address")))
}

func (s *Server) handleJoin(r *http.Request, body []byte) (any, error) {
	var req protocol.JoinRequest
	if err := protocol.Decode(protocol.KindJoin, body, &req); err != nil {
		return nil, err
	}
	lobby := r.PathValue("lobby")
	session, err := s.lobbies.Join(r.Context(), lobby, req.Session)
	if err != nil {
		return nil, err
	}
	snap, err := s.lobbies.Snapshot(r.Context(), lobby, "")
	if err != nil {
		return nil, err
	}
	return protocol.JoinResponse{Session: session, Listeners: snap.Listeners}, nil
}

func (s *Server) handleLeave(r *http.Request, body []byte) (any, error) {
	var req protocol.LeaveRequest
	if err := protocol.Decode(protocol.KindLeave, body, &req); err != nil {
		return nil, err
	}
	if err := s.lobbies.Leave(r.Context(), r.PathValue("lobby"), req.Session); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleVote(r *http.Request, body []byte) (any, error) {
	var req protocol.VoteRequest
	if err := protocol.Decode(protocol.KindVote, body, &req); err != nil {
		return nil, err
	}
	return s.lobbies.Vote(r.Context(), r.PathValue("lobby"), req.TurnID, req.Side, req.Address)
}

func (s *Server) handleBet(r *http.Request, body []byte) (any, error) {
	var req protocol.BetRequest
	if err := protocol.Decode(protocol.KindBet, body, &req); err != nil {
		return nil, err
	}
	return s.lobbies.PlaceBet(r.Context(), r.PathValue("lobby"), req.EpochID, req.Side, req.Amount, req.Address)
}

func (s *Server) handleClaim(r *http.Request, body []byte) (any, error) {
	var req protocol.ClaimRequest
	if err := protocol.Decode(protocol.KindClaim, body, &req); err != nil {
		return nil, err
	}
	return s.lobbies.MarkClaimed(r.Context(), r.PathValue("lobby"), req.EpochID, req.Address)
}

func (s *Server) adminLobby(r *http.Request) string {
	if id := r.PathValue("lobby"); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("lobby")); id != "" {
		return id
	}
	return s.cfg.DefaultLobbyID
}

func (s *Server) handleReset(r *http.Request, body []byte) (any, error) {
	var req protocol.ResetRequest
	if err := protocol.Decode(protocol.KindReset, body, &req); err != nil {
		return nil, err
	}
	lobby := s.adminLobby(r)
	matchID, err := s.lobbies.Reset(r.Context(), lobby, req.ClearPresence)
	if err != nil {
		return nil, err
	}
	s.cfg.Logger.Printf("admin reset lobby=%s match=%s remote=%s", lobby, matchID, r.RemoteAddr)
	return protocol.ResetResponse{MatchID: matchID}, nil
}

func (s *Server) handleStart(r *http.Request, _ []byte) (any, error) {
	lobby := s.adminLobby(r)
	if err := s.lobbies.Start(r.Context(), lobby); err != nil {
		return nil, err
	}
	return s.lobbies.Snapshot(r.Context(), lobby, "")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
