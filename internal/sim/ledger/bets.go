package ledger

import (
	"sort"

	"musicduel.ai/internal/sim/model"
)

// BetWindow describes the epoch currently accepting stakes.
type BetWindow struct {
	EpochID int64
	Locked  bool
	MinBet  int64
	MaxBet  int64
}

type Stake struct {
	EpochID int64 `json:"epoch_id"`
	StakeA  int64 `json:"stake_a"`
	StakeB  int64 `json:"stake_b"`
	Claimed bool  `json:"claimed"`
}

// PlaceBet adds amount to side for address in the open epoch. A new bet reopens
// claim eligibility for that address and epoch.
func PlaceBet(st *model.LobbyState, w BetWindow, epochID int64, side string, amount int64, address string) (Stake, error) {
	s, ok := model.ParseSide(side)
	if !ok {
		return Stake{}, ErrInvalidSide
	}
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Stake{}, err
	}
	if amount < w.MinBet || amount > w.MaxBet {
		return Stake{}, ErrInvalidAmount
	}
	if epochID != w.EpochID {
		return Stake{}, ErrEpochMismatch
	}
	agg := st.Epochs[epochID]
	if agg == nil || agg.Finalized() {
		return Stake{}, ErrEpochMismatch
	}
	if w.Locked {
		return Stake{}, ErrBettingClosed
	}

	byAddr := st.Bets[epochID]
	if byAddr == nil {
		byAddr = map[string]*model.EpochBet{}
		st.Bets[epochID] = byAddr
	}
	bet := byAddr[addr]
	if bet == nil {
		bet = &model.EpochBet{}
		byAddr[addr] = bet
	}
	if s == model.SideA {
		bet.StakeA += amount
		agg.StakeA += amount
	} else {
		bet.StakeB += amount
		agg.StakeB += amount
	}
	bet.Claimed = false
	return Stake{EpochID: epochID, StakeA: bet.StakeA, StakeB: bet.StakeB}, nil
}

// StakeOf returns address's stake in epochID; the address must already be normalized.
func StakeOf(st *model.LobbyState, epochID int64, addr string) (Stake, bool) {
	bet := st.Bets[epochID][addr]
	if bet == nil {
		return Stake{EpochID: epochID}, false
	}
	return Stake{EpochID: epochID, StakeA: bet.StakeA, StakeB: bet.StakeB, Claimed: bet.Claimed}, true
}

type Claimable struct {
	EpochID int64      `json:"epoch_id"`
	Winner  model.Side `json:"winner"`
	Stake   int64      `json:"stake"`
}

func claimable(st *model.LobbyState, epochID int64, addr string) (Claimable, bool) {
	agg := st.Epochs[epochID]
	if !agg.Finalized() {
		return Claimable{}, false
	}
	if agg.Winner != model.SideA && agg.Winner != model.SideB {
		return Claimable{}, false
	}
	bet := st.Bets[epochID][addr]
	if bet == nil || bet.Claimed {
		return Claimable{}, false
	}
	stake := bet.StakeOn(agg.Winner)
	if stake <= 0 {
		return Claimable{}, false
	}
	return Claimable{EpochID: epochID, Winner: agg.Winner, Stake: stake}, true
}

// ClaimableEpochs lists finalized, unclaimed epochs where address backed the winner, newest first.
func ClaimableEpochs(st *model.LobbyState, address string) ([]Claimable, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	var out []Claimable
	for epochID, byAddr := range st.Bets {
		if _, ok := byAddr[addr]; !ok {
			continue
		}
		if c, ok := claimable(st, epochID, addr); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EpochID > out[j].EpochID })
	return out, nil
}

// MarkClaimed mirrors a settlement-side claim. Eligibility is re-checked at call time.
func MarkClaimed(st *model.LobbyState, epochID int64, address string) (Claimable, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Claimable{}, err
	}
	c, ok := claimable(st, epochID, addr)
	if !ok {
		return Claimable{}, ErrNotClaimable
	}
	st.Bets[epochID][addr].Claimed = true
	return c, nil
}

// PruneEpochs drops aggregates and bets for epochs before minEpoch.
func PruneEpochs(st *model.LobbyState, minEpoch int64) int {
	n := 0
	for id := range st.Epochs {
		if id < minEpoch {
			delete(st.Epochs, id)
			n++
		}
	}
	for id := range st.Bets {
		if id < minEpoch {
			delete(st.Bets, id)
		}
	}
	return n
}
