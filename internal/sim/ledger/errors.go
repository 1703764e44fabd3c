package ledger

import "errors"

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidSide    = errors.New("invalid side")
	ErrLobbyIdle      = errors.New("no turn is playing")
	ErrTurnMismatch   = errors.New("turn is not the one currently playing")
	ErrAlreadyVoted   = errors.New("address already voted for this turn")
	ErrEpochMismatch  = errors.New("epoch is not the open one")
	ErrBettingClosed  = errors.New("betting is closed for this epoch")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNotClaimable   = errors.New("epoch is not claimable for this address")
)
