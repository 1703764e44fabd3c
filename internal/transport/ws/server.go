// Package ws streams lobby snapshots to listeners and keeps their presence alive.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"musicduel.ai/internal/protocol"
	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/ledger"
)

type Lobbies interface {
	Snapshot(ctx context.Context, lobbyID, address string) (engine.Snapshot, error)
	Join(ctx context.Context, lobbyID, session string) (string, error)
	Leave(ctx context.Context, lobbyID, session string) error
}

type Server struct {
	lobbies  Lobbies
	log      *log.Logger
	interval time.Duration

	upgrader websocket.Upgrader
}

// NewServer pushes a snapshot every interval (default 1s) and on every client PING.
func NewServer(l Lobbies, logger *log.Logger, interval time.Duration) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Server{
		lobbies:  l,
		log:      logger,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // listeners come from any page
		},
	}
}

// Handler serves GET /v1/lobbies/{lobby}/ws.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		lobbyID := r.PathValue("lobby")
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session, address := s.handshake(conn, lobbyID, strings.TrimSpace(r.URL.Query().Get("session")))
		if session == "" {
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.lobbies.Leave(ctx, lobbyID, session); err != nil {
				s.log.Printf("ws lobby=%s leave %s: %v", lobbyID, session, err)
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		kick := make(chan struct{}, 1)

		// Writer goroutine; the only writer once the handshake is done.
		done := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for {
				if err := s.push(ctx, conn, lobbyID, address); err != nil {
					cancel()
					_ = conn.Close()
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				case <-kick:
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypePing {
				continue
			}
			if _, err := s.lobbies.Join(ctx, lobbyID, session); err != nil {
				s.log.Printf("ws lobby=%s refresh %s: %v", lobbyID, session, err)
				continue
			}
			select {
			case kick <- struct{}{}:
			default:
			}
		}
		cancel()
		<-done
	}
}

func (s *Server) handshake(conn *websocket.Conn, lobbyID, querySession string) (session, address string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := protocol.Decode(protocol.KindHello, msg, &hello); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", ""
	}
	if hello.Address != "" {
		if _, err := ledger.NormalizeAddress(hello.Address); err != nil {
			_ = writeJSON(conn, protocol.NewError(err))
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad address"), time.Now().Add(time.Second))
			return "", ""
		}
	}
	session = hello.Session
	if session == "" {
		session = querySession
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err = s.lobbies.Join(ctx, lobbyID, session)
	if err != nil {
		_ = writeJSON(conn, protocol.NewError(err))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join failed"), time.Now().Add(time.Second))
		return "", ""
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		LobbyID:         lobbyID,
		SessionID:       session,
		PushIntervalMs:  s.interval.Milliseconds(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return session, hello.Address
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, lobbyID, address string) error {
	snap, err := s.lobbies.Snapshot(ctx, lobbyID, address)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A storage hiccup is reported and the stream goes on.
		return writeJSON(conn, protocol.NewError(err))
	}
	return writeJSON(conn, protocol.SnapshotMsg{
		Type:            protocol.TypeSnapshot,
		ProtocolVersion: protocol.Version,
		Snapshot:        snap,
	})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
