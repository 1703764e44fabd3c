// Package epoch runs the hourly settlement windows of a lobby.
package epoch

import (
	"strconv"

	"musicduel.ai/internal/sim/ledger"
	"musicduel.ai/internal/sim/mathx"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/mutation"
	"musicduel.ai/internal/sim/planner"
)

// ID is floor(unix seconds / window seconds).
func ID(nowMs, seconds int64) int64 {
	return mathx.FloorDiv(mathx.FloorDiv(nowMs, 1000), seconds)
}

type Manager struct {
	Seconds      int64
	HistoryLimit int
	// Retention is how many epochs of aggregates and bets are kept behind the current one.
	Retention int
	// LockSeconds closes betting this long before the window ends; 0 keeps it open to the end.
	LockSeconds int64

	Mutation mutation.Engine
	Planner  planner.Planner
}

// Window returns [start, end) of epoch id in unix milliseconds.
func (m Manager) Window(id int64) (startMs, endMs int64) {
	startMs = id * m.Seconds * 1000
	return startMs, startMs + m.Seconds*1000
}

// Current is the epoch id containing now.
func (m Manager) Current(nowMs int64) int64 { return ID(nowMs, m.Seconds) }

// BetWindow describes whether the epoch containing now accepts stakes.
func (m Manager) BetWindow(nowMs int64) ledger.BetWindow {
	id := m.Current(nowMs)
	_, end := m.Window(id)
	return ledger.BetWindow{
		EpochID: id,
		Locked:  m.LockSeconds > 0 && nowMs >= end-m.LockSeconds*1000,
	}
}

// Result summarizes one sweep.
type Result struct {
	Changed   bool
	Finalized []model.EpochHistoryItem
	Pruned    int
}

// Sweep ensures an aggregate exists for the current epoch and finalizes every epoch
// between the last seen one and the current one, in ascending order.
func (m Manager) Sweep(st *model.LobbyState, nowMs int64) Result {
	var res Result
	cur := m.Current(nowMs)

	if st.LastEpochID == 0 {
		st.LastEpochID = cur
		res.Changed = true
	}
	for id := st.LastEpochID; id < cur; id++ {
		if item, ok := m.Finalize(st, id, nowMs); ok {
			res.Finalized = append(res.Finalized, item)
		}
		res.Changed = true
	}
	if cur > st.LastEpochID {
		st.LastEpochID = cur
		res.Changed = true
	}
	if _, ok := st.Epochs[cur]; !ok {
		st.Epochs[cur] = &model.EpochAggregate{EpochID: cur}
		res.Changed = true
	}
	if m.Retention > 0 {
		res.Pruned = ledger.PruneEpochs(st, cur-int64(m.Retention))
		if res.Pruned > 0 {
			res.Changed = true
		}
	}
	return res
}

// Finalize settles epoch id once. A second call is a no-op and returns ok=false.
// Epochs that never saw traffic are settled as empty ties.
func (m Manager) Finalize(st *model.LobbyState, id, nowMs int64) (model.EpochHistoryItem, bool) {
	agg := st.Epochs[id]
	if agg == nil {
		agg = &model.EpochAggregate{EpochID: id}
		st.Epochs[id] = agg
	}
	if agg.Finalized() {
		return model.EpochHistoryItem{}, false
	}
	agg.Winner = ledger.Winner(agg.VotesA, agg.VotesB)
	agg.FinalizedAtMs = nowMs

	eid := strconv.FormatInt(id, 10)
	var notes []string
	for _, side := range []model.Side{model.SideA, model.SideB} {
		rng := m.Planner.Seed(st.LobbyID, st.MatchID, "epoch", eid, string(side), "mutate")
		notes = append(notes, m.Mutation.Apply(st.Agent(side), mutation.OutcomeFor(side, agg.Winner), mutation.EpochLevel, rng))
	}

	item := model.EpochHistoryItem{
		EpochID:       id,
		VotesA:        agg.VotesA,
		VotesB:        agg.VotesB,
		StakeA:        agg.StakeA,
		StakeB:        agg.StakeB,
		Winner:        agg.Winner,
		FinalizedAtMs: nowMs,
		BankrollA:     st.AgentA.Bankroll,
		BankrollB:     st.AgentB.Bankroll,
		Note:          notes[0] + " | " + notes[1],
	}
	st.EpochHistory = append([]model.EpochHistoryItem{item}, st.EpochHistory...)
	if m.HistoryLimit > 0 && len(st.EpochHistory) > m.HistoryLimit {
		st.EpochHistory = st.EpochHistory[:m.HistoryLimit]
	}
	return item, true
}
