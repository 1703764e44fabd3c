package protocol

import (
	"errors"
	"net/http"

	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/ledger"
)

const (
	// Request validation.
	ErrInvalidInput = "E_INVALID_INPUT"
	ErrUnauthorized = "E_UNAUTHORIZED"
	ErrRateLimit    = "E_RATE_LIMIT"

	// Ledger rules.
	ErrTurnMismatch   = "E_TURN_MISMATCH"
	ErrLobbyIdle      = "E_LOBBY_IDLE"
	ErrAlreadyVoted   = "E_ALREADY_VOTED"
	ErrEpochMismatch  = "E_EPOCH_MISMATCH"
	ErrBettingClosed  = "E_BETTING_CLOSED"
	ErrInvalidAmount  = "E_INVALID_AMOUNT"
	ErrInvalidAddress = "E_INVALID_ADDRESS"
	ErrNotClaimable   = "E_NOT_CLAIMABLE"

	ErrUnknown = "E_UNKNOWN"
)

var knownCodes = map[string]struct{}{
	ErrInvalidInput:   {},
	ErrUnauthorized:   {},
	ErrRateLimit:      {},
	ErrTurnMismatch:   {},
	ErrLobbyIdle:      {},
	ErrAlreadyVoted:   {},
	ErrEpochMismatch:  {},
	ErrBettingClosed:  {},
	ErrInvalidAmount:  {},
	ErrInvalidAddress: {},
	ErrNotClaimable:   {},
	ErrUnknown:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrMalformed marks a payload rejected before it reached the engine.
var ErrMalformed = errors.New("malformed request")

var codeTable = []struct {
	err    error
	code   string
	status int
}{
	{ErrMalformed, ErrInvalidInput, http.StatusBadRequest},
	{engine.ErrUnknownLobby, ErrInvalidInput, http.StatusBadRequest},
	{engine.ErrLobbyLimit, ErrRateLimit, http.StatusTooManyRequests},
	{ledger.ErrInvalidSide, ErrInvalidInput, http.StatusBadRequest},
	{engine.ErrUnauthorized, ErrUnauthorized, http.StatusUnauthorized},
	{ledger.ErrTurnMismatch, ErrTurnMismatch, http.StatusConflict},
	{ledger.ErrLobbyIdle, ErrLobbyIdle, http.StatusConflict},
	{ledger.ErrAlreadyVoted, ErrAlreadyVoted, http.StatusConflict},
	{ledger.ErrEpochMismatch, ErrEpochMismatch, http.StatusConflict},
	{ledger.ErrBettingClosed, ErrBettingClosed, http.StatusConflict},
	{ledger.ErrInvalidAmount, ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidAddress, ErrInvalidAddress, http.StatusBadRequest},
	{ledger.ErrNotClaimable, ErrNotClaimable, http.StatusConflict},
}

// CodeFor maps an engine error onto its wire code and HTTP status. Anything
// unrecognized, persistence failures included, is E_UNKNOWN.
func CodeFor(err error) (code string, status int) {
	if err == nil {
		return "", http.StatusOK
	}
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return ErrUnknown, http.StatusInternalServerError
}
