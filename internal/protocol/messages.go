package protocol

import "musicduel.ai/internal/sim/engine"

type JoinRequest struct {
	Session string `json:"session,omitempty"`
}

type JoinResponse struct {
	Session   string `json:"session"`
	Listeners int    `json:"listeners"`
}

type LeaveRequest struct {
	Session string `json:"session"`
}

type VoteRequest struct {
	TurnID  string `json:"turn_id"`
	Side    string `json:"side"`
	Address string `json:"address"`
}

type BetRequest struct {
	EpochID int64  `json:"epoch_id"`
	Side    string `json:"side"`
	Amount  int64  `json:"amount"`
	Address string `json:"address"`
}

type ClaimRequest struct {
	EpochID int64  `json:"epoch_id"`
	Address string `json:"address"`
}

type ResetRequest struct {
	ClearPresence bool `json:"clear_presence,omitempty"`
}

type ResetResponse struct {
	MatchID string `json:"match_id"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HELLO (client -> server), first frame of a stream.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Session         string `json:"session,omitempty"`
	Address         string `json:"address,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	LobbyID         string `json:"lobby_id"`
	SessionID       string `json:"session_id"`
	PushIntervalMs  int64  `json:"push_interval_ms"`
}

// SNAPSHOT (server -> client)
type SnapshotMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Snapshot        engine.Snapshot `json:"snapshot"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(err error) ErrorMsg {
	code, _ := CodeFor(err)
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: err.Error()}
}
