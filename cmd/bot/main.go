package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	mrand "math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"musicduel.ai/internal/protocol"
)

// bot is a synthetic listener: it holds a stream open, keeps its presence fresh
// and votes on every turn it hears.
func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "server base url")
		lobbyID  = flag.String("lobby", "main", "lobby id")
		bias     = flag.Float64("bias_a", 0.5, "probability of voting for A")
		pingEvry = flag.Duration("ping", 10*time.Second, "presence refresh interval")
		noVote   = flag.Bool("listen_only", false, "never vote")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	address := randomAddress()

	wsURL := strings.Replace(strings.TrimRight(*baseURL, "/"), "http", "ws", 1) + "/v1/lobbies/" + url.PathEscape(*lobbyID) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Address:         address,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	// After HELLO this goroutine is the only data writer.
	go func() {
		t := time.NewTicker(*pingEvry)
		defer t.Stop()
		for range t.C {
			if err := conn.WriteJSON(protocol.BaseMessage{Type: protocol.TypePing, ProtocolVersion: protocol.Version}); err != nil {
				return
			}
		}
	}()

	voted := map[string]bool{}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME lobby=%s session=%s address=%s", w.LobbyID, w.SessionID, address)

		case protocol.TypeSnapshot:
			var s protocol.SnapshotMsg
			if err := json.Unmarshal(msg, &s); err != nil {
				continue
			}
			np := s.Snapshot.NowPlaying
			if *noVote || np == nil || voted[np.TurnID] {
				continue
			}
			voted[np.TurnID] = true
			side := "B"
			if mrand.Float64() < *bias {
				side = "A"
			}
			if err := vote(*baseURL, *lobbyID, np.TurnID, side, address); err != nil {
				logger.Printf("vote %s: %v", np.TurnID, err)
				continue
			}
			logger.Printf("voted %s on %s (%s playing %s @%d bpm)", side, np.TurnID, np.Agent, np.Render.Params.Style, np.Render.Params.Tempo)

		case protocol.TypeError:
			logger.Printf("server error: %s", msg)
		}
	}
}

func vote(baseURL, lobbyID, turnID, side, address string) error {
	body, _ := json.Marshal(protocol.VoteRequest{TurnID: turnID, Side: side, Address: address})
	u := strings.TrimRight(baseURL, "/") + "/v1/lobbies/" + url.PathEscape(lobbyID) + "/vote"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var e protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("status=%d code=%s", resp.StatusCode, e.Code)
	}
	return nil
}

func randomAddress() string {
	var b [common.AddressLength]byte
	_, _ = rand.Read(b[:])
	return strings.ToLower(common.BytesToAddress(b[:]).Hex())
}
