package engine

import (
	"context"

	"musicduel.ai/internal/sim/ledger"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/planner"
	"musicduel.ai/internal/sim/playloop"
)

type Snapshot struct {
	LobbyID string `json:"lobby_id"`
	Title   string `json:"title"`
	MatchID string `json:"match_id"`
	NowMs   int64  `json:"now_ms"`

	Listeners      int            `json:"listeners"`
	Phase          playloop.Phase `json:"phase"`
	TurnDurationMs int64          `json:"turn_duration_ms"`
	TurnGapMs      int64          `json:"turn_gap_ms"`
	NextTurnInMs   int64          `json:"next_turn_in_ms"`
	ElapsedMs      int64          `json:"elapsed_ms"`
	CompletedTurns int64          `json:"completed_turns"`

	NowPlaying *NowPlaying   `json:"now_playing"`
	Tally      *ledger.Tally `json:"tally"`

	Clips        []model.ClipHistoryItem  `json:"clips"`
	Epoch        EpochView                `json:"epoch"`
	EpochHistory []model.EpochHistoryItem `json:"epoch_history"`
	Agents       []AgentView              `json:"agents"`
	Caller       *CallerView              `json:"caller,omitempty"`
}

type NowPlaying struct {
	playloop.NowPlaying
	TurnID string                `json:"turn_id"`
	Render planner.RenderRequest `json:"render"`
}

type EpochView struct {
	ID             int64      `json:"id"`
	StartMs        int64      `json:"start_ms"`
	EndMs          int64      `json:"end_ms"`
	BettingOpen    bool       `json:"betting_open"`
	Finalized      bool       `json:"finalized"`
	VotesA         int64      `json:"votes_a"`
	VotesB         int64      `json:"votes_b"`
	StakeA         int64      `json:"stake_a"`
	StakeB         int64      `json:"stake_b"`
	Winner         model.Side `json:"winner,omitempty"`
	MinBet         int64      `json:"min_bet"`
	MaxBet         int64      `json:"max_bet"`
	BetLockSeconds int64      `json:"bet_lock_seconds"`
}

type AgentView struct {
	model.RuntimeAgent
	WinRate float64 `json:"win_rate"`
}

type CallerView struct {
	Address   string             `json:"address"`
	Stake     ledger.Stake       `json:"stake"`
	Claimable []ledger.Claimable `json:"claimable"`
}

// Snapshot catches the lobby up to now and returns a read view. address is optional;
// when set, the caller's stake and claimable epochs are included.
func (e *Engine) Snapshot(ctx context.Context, lobbyID, address string) (Snapshot, error) {
	var addr string
	if address != "" {
		a, err := ledger.NormalizeAddress(address)
		if err != nil {
			return Snapshot{}, err
		}
		addr = a
	}
	var out Snapshot
	err := e.run(ctx, lobbyID, func(p *pass) error {
		out = e.build(p, addr)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

func (e *Engine) build(p *pass, addr string) Snapshot {
	st := p.st
	elapsed := playloop.ElapsedActive(st.Loop, p.nowMs)
	s := Snapshot{
		LobbyID:        st.LobbyID,
		Title:          p.spec.Title,
		MatchID:        st.MatchID,
		NowMs:          p.nowMs,
		Listeners:      len(st.Presence),
		TurnDurationMs: e.tun.TurnDurationMs,
		TurnGapMs:      e.tun.TurnGapMs,
		NextTurnInMs:   e.clock.NextTurnInMs(st.Loop, p.nowMs),
		ElapsedMs:      elapsed,
		CompletedTurns: st.Loop.MaterializedTurns,
		Clips:          append([]model.ClipHistoryItem{}, st.Clips...),
		EpochHistory:   append([]model.EpochHistoryItem{}, st.EpochHistory...),
	}

	np, phase, ok := e.clock.Current(st.Loop, p.nowMs)
	s.Phase = phase
	if ok {
		agent := *st.Agent(np.Agent)
		turnID := st.TurnID(np.Index)
		s.NowPlaying = &NowPlaying{
			NowPlaying: np,
			TurnID:     turnID,
			Render:     e.planner.Render(p.spec, st.MatchID, agent, np.Index),
		}
		t := ledger.TallyOf(st, turnID)
		s.Tally = &t
	}

	m := e.epochs(p.spec)
	w := m.BetWindow(p.nowMs)
	start, end := m.Window(w.EpochID)
	s.Epoch = EpochView{
		ID:             w.EpochID,
		StartMs:        start,
		EndMs:          end,
		MinBet:         e.tun.MinBet,
		MaxBet:         e.tun.MaxBet,
		BetLockSeconds: e.tun.BetLockSeconds,
	}
	if agg := st.Epochs[w.EpochID]; agg != nil {
		s.Epoch.Finalized = agg.Finalized()
		s.Epoch.BettingOpen = !agg.Finalized() && !w.Locked
		s.Epoch.VotesA, s.Epoch.VotesB = agg.VotesA, agg.VotesB
		s.Epoch.StakeA, s.Epoch.StakeB = agg.StakeA, agg.StakeB
		s.Epoch.Winner = agg.Winner
	}

	for _, a := range []model.RuntimeAgent{st.AgentA, st.AgentB} {
		s.Agents = append(s.Agents, AgentView{RuntimeAgent: a, WinRate: a.WinRate()})
	}

	if addr != "" {
		stake, _ := ledger.StakeOf(st, w.EpochID, addr)
		claims, _ := ledger.ClaimableEpochs(st, addr)
		if claims == nil {
			claims = []ledger.Claimable{}
		}
		s.Caller = &CallerView{Address: addr, Stake: stake, Claimable: claims}
	}
	return s
}

// Agent returns the public view of side.
func (s Snapshot) Agent(side model.Side) AgentView {
	for _, a := range s.Agents {
		if a.ID == side {
			return a
		}
	}
	return AgentView{}
}
