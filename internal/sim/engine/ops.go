package engine

import (
	"context"

	"musicduel.ai/internal/sim/ledger"
	"musicduel.ai/internal/sim/model"
)

// Join registers or refreshes a listener session and returns the effective session id.
// Joining a well-formed id outside the catalog opens it from the default template.
// A malformed or empty session is replaced by a freshly minted one.
func (e *Engine) Join(ctx context.Context, lobbyID, session string) (string, error) {
	var out string
	err := e.open(ctx, lobbyID, func(p *pass) error {
		out = e.presence.Join(p.st.Presence, session, p.nowMs)
		p.dirty = true
		p.emit(Event{Kind: EventListen, Listeners: len(p.st.Presence)})
		e.reconcileLoop(p, p.nowMs)
		return nil
	})
	return out, err
}

// Leave drops a listener session. Unknown sessions are ignored.
func (e *Engine) Leave(ctx context.Context, lobbyID, session string) error {
	return e.run(ctx, lobbyID, func(p *pass) error {
		if e.presence.Leave(p.st.Presence, session) {
			p.dirty = true
			p.emit(Event{Kind: EventListen, Listeners: len(p.st.Presence)})
		}
		e.reconcileLoop(p, p.nowMs)
		return nil
	})
}

func (e *Engine) currentTurn(st *model.LobbyState, nowMs int64) ledger.CurrentTurn {
	np, _, ok := e.clock.Current(st.Loop, nowMs)
	if !ok {
		return ledger.CurrentTurn{}
	}
	return ledger.CurrentTurn{ID: st.TurnID(np.Index), Index: np.Index, Playing: true}
}

// Vote records address's vote on the playing turn.
func (e *Engine) Vote(ctx context.Context, lobbyID, turnID, side, address string) (ledger.Tally, error) {
	var out ledger.Tally
	err := e.run(ctx, lobbyID, func(p *pass) error {
		cur := e.currentTurn(p.st, p.nowMs)
		epochID := e.epochs(p.spec).Current(p.nowMs)
		t, err := ledger.CastVote(p.st, cur, epochID, turnID, side, address)
		if err != nil {
			return err
		}
		out = t
		p.dirty = true
		addr, _ := ledger.NormalizeAddress(address)
		p.emit(Event{Kind: EventVote, TurnID: turnID, EpochID: epochID, Side: model.Side(side), Address: addr})
		return nil
	})
	if err != nil {
		return ledger.Tally{}, err
	}
	return out, nil
}

// PlaceBet stakes amount on side for the open epoch.
func (e *Engine) PlaceBet(ctx context.Context, lobbyID string, epochID int64, side string, amount int64, address string) (ledger.Stake, error) {
	var out ledger.Stake
	err := e.run(ctx, lobbyID, func(p *pass) error {
		w := e.epochs(p.spec).BetWindow(p.nowMs)
		w.MinBet, w.MaxBet = e.tun.MinBet, e.tun.MaxBet
		s, err := ledger.PlaceBet(p.st, w, epochID, side, amount, address)
		if err != nil {
			return err
		}
		out = s
		p.dirty = true
		addr, _ := ledger.NormalizeAddress(address)
		p.emit(Event{Kind: EventBet, EpochID: epochID, Side: model.Side(side), Amount: amount, Address: addr})
		return nil
	})
	if err != nil {
		return ledger.Stake{}, err
	}
	return out, nil
}

// MarkClaimed mirrors a claim settled elsewhere. It never moves funds.
func (e *Engine) MarkClaimed(ctx context.Context, lobbyID string, epochID int64, address string) (ledger.Claimable, error) {
	var out ledger.Claimable
	err := e.run(ctx, lobbyID, func(p *pass) error {
		c, err := ledger.MarkClaimed(p.st, epochID, address)
		if err != nil {
			return err
		}
		out = c
		p.dirty = true
		addr, _ := ledger.NormalizeAddress(address)
		p.emit(Event{Kind: EventClaim, EpochID: epochID, Side: c.Winner, Amount: c.Stake, Address: addr})
		return nil
	})
	if err != nil {
		return ledger.Claimable{}, err
	}
	return out, nil
}

// Reset wipes the lobby back to defaults under a new match id. Presence survives
// unless clearPresence is set; the loop resumes at once if listeners remain.
func (e *Engine) Reset(ctx context.Context, lobbyID string, clearPresence bool) (string, error) {
	var matchID string
	err := e.open(ctx, lobbyID, func(p *pass) error {
		fresh, err := e.factory.New(lobbyID)
		if err != nil {
			return err
		}
		if !clearPresence {
			for id, seen := range p.st.Presence {
				fresh.Presence[id] = seen
			}
		}
		e.logger.Printf("lobby=%s reset match %s -> %s clear_presence=%v", lobbyID, p.st.MatchID, fresh.MatchID, clearPresence)
		p.st = fresh
		p.events = nil
		p.dirty = true
		p.emit(Event{Kind: EventReset, Listeners: len(fresh.Presence)})
		e.reconcileLoop(p, p.nowMs)
		e.epochs(p.spec).Sweep(p.st, p.nowMs)
		matchID = fresh.MatchID
		return nil
	})
	return matchID, err
}

// Start records the loop start if it was never set and resumes playback when
// listeners are present.
func (e *Engine) Start(ctx context.Context, lobbyID string) error {
	return e.open(ctx, lobbyID, func(p *pass) error {
		l := &p.st.Loop
		if l.LoopStartMs == 0 {
			l.LoopStartMs = p.nowMs
			p.dirty = true
		}
		e.reconcileLoop(p, p.nowMs)
		return nil
	})
}
