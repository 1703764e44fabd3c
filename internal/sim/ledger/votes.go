// Package ledger keeps the off-chain vote and bet mirrors of a lobby.
//
// The settlement contract stays authoritative; nothing here moves funds.
package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"musicduel.ai/internal/sim/model"
)

// NormalizeAddress validates an EVM address and returns its lower-case 0x form.
func NormalizeAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(raw).Hex()), nil
}

// Winner is the side with strictly more votes, otherwise a tie.
func Winner(a, b int64) model.Side {
	switch {
	case a > b:
		return model.SideA
	case b > a:
		return model.SideB
	}
	return model.SideTie
}

type Tally struct {
	TurnID string     `json:"turn_id"`
	A      int64      `json:"a"`
	B      int64      `json:"b"`
	Winner model.Side `json:"winner"`
}

// CurrentTurn is the turn audible at the time of a vote.
type CurrentTurn struct {
	ID      string
	Index   int64
	Playing bool
}

// TallyOf reads the tally for turnID; missing turns tally zero.
func TallyOf(st *model.LobbyState, turnID string) Tally {
	t := Tally{TurnID: turnID, Winner: model.SideTie}
	if tv := st.Votes[turnID]; tv != nil {
		t.A, t.B = tv.A, tv.B
		t.Winner = Winner(tv.A, tv.B)
	}
	return t
}

// CastVote records one vote per normalized address for the playing turn and mirrors
// it into the open epoch aggregate, if any.
func CastVote(st *model.LobbyState, cur CurrentTurn, epochID int64, turnID, side, address string) (Tally, error) {
	s, ok := model.ParseSide(side)
	if !ok {
		return Tally{}, ErrInvalidSide
	}
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Tally{}, err
	}
	if tv := st.Votes[turnID]; tv != nil {
		if _, voted := tv.Votes[addr]; voted {
			return Tally{}, ErrAlreadyVoted
		}
	}
	if !cur.Playing {
		return Tally{}, ErrLobbyIdle
	}
	if turnID != cur.ID {
		return Tally{}, ErrTurnMismatch
	}

	tv := st.Votes[turnID]
	if tv == nil {
		tv = &model.TurnVotes{TurnID: turnID, TurnIndex: cur.Index, Votes: map[string]model.Side{}}
		st.Votes[turnID] = tv
	}
	tv.Votes[addr] = s
	if s == model.SideA {
		tv.A++
	} else {
		tv.B++
	}

	if agg := st.Epochs[epochID]; agg != nil && !agg.Finalized() {
		if s == model.SideA {
			agg.VotesA++
		} else {
			agg.VotesB++
		}
	}
	return TallyOf(st, turnID), nil
}

// PruneVotes drops vote records for turns before minIndex.
func PruneVotes(st *model.LobbyState, minIndex int64) int {
	n := 0
	for id, tv := range st.Votes {
		if tv.TurnIndex < minIndex {
			delete(st.Votes, id)
			n++
		}
	}
	return n
}
