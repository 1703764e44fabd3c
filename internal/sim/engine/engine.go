// Package engine runs the per-lobby match simulation.
//
// Every operation loads the lobby, catches it up to now (presence pruning, turn
// materialization, loop pause/resume, epoch sweep), applies its own change, and
// persists the result only if something changed. Operations on one lobby are
// serialized; different lobbies never block each other.
package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"musicduel.ai/internal/sim/epoch"
	"musicduel.ai/internal/sim/ledger"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/mathx"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/mutation"
	"musicduel.ai/internal/sim/planner"
	"musicduel.ai/internal/sim/playloop"
	"musicduel.ai/internal/sim/presence"
	"musicduel.ai/internal/sim/tuning"
)

// Store owns the durable lobby records. Load returns a private copy the caller may
// mutate; Save makes a copy visible to later loads only once it is durable.
// Exists reports whether a record is already stored, without creating one.
type Store interface {
	Load(ctx context.Context, lobbyID string) (*model.LobbyState, error)
	Save(ctx context.Context, st *model.LobbyState) error
	Exists(ctx context.Context, lobbyID string) (bool, error)
}

type Options struct {
	Store    Store
	Factory  Factory
	Recorder Recorder
	Logger   *log.Logger
	Planner  planner.Planner
	// Now defaults to time.Now.
	Now func() time.Time
	// NewSessionID defaults to uuid.NewString.
	NewSessionID func() string
}

type Engine struct {
	store    Store
	factory  Factory
	lobbies  lobbies.Config
	tun      tuning.Tuning
	rec      Recorder
	logger   *log.Logger
	planner  planner.Planner
	now      func() time.Time
	clock    playloop.Clock
	presence presence.Tracker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// lobbies registered from the default template
	extra int
}

func New(opts Options) *Engine {
	e := &Engine{
		store:   opts.Store,
		factory: opts.Factory,
		lobbies: opts.Factory.Lobbies,
		tun:     opts.Factory.Tuning,
		rec:     opts.Recorder,
		logger:  opts.Logger,
		planner: opts.Planner,
		now:     opts.Now,
		locks:   map[string]*sync.Mutex{},
	}
	if e.rec == nil {
		e.rec = nopRecorder{}
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.planner.Hasher == nil || e.planner.NewSource == nil {
		e.planner = planner.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.clock = playloop.Clock{DurationMs: e.tun.TurnDurationMs, GapMs: e.tun.TurnGapMs}
	e.presence = presence.Tracker{TTL: e.tun.PresenceTTL(), NewID: opts.NewSessionID}
	return e
}

func (e *Engine) Tuning() tuning.Tuning { return e.tun }

func (e *Engine) Lobbies() lobbies.Config { return e.lobbies }

// lobbyLock returns the lock serializing id, registering the lobby on first use.
// Lobbies outside the catalog are only registered when create is set or a record
// already exists, and at most max_lobbies of them.
func (e *Engine) lobbyLock(ctx context.Context, id string, create bool) (*sync.Mutex, error) {
	e.mu.Lock()
	l := e.locks[id]
	e.mu.Unlock()
	if l != nil {
		return l, nil
	}
	if !create && !e.lobbies.Has(id) {
		ok, err := e.store.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: lookup %s: %v", ErrPersistence, id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q not open", ErrUnknownLobby, id)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if l = e.locks[id]; l != nil {
		return l, nil
	}
	if !e.lobbies.Has(id) {
		if e.extra >= e.tun.MaxLobbies {
			e.logger.Printf("lobby=%s refused: %d extra lobbies open", id, e.extra)
			return nil, fmt.Errorf("%w: %q", ErrLobbyLimit, id)
		}
		e.extra++
	}
	l = &sync.Mutex{}
	e.locks[id] = l
	return l, nil
}

// pass is one serialized operation on one lobby.
type pass struct {
	st     *model.LobbyState
	spec   lobbies.LobbySpec
	nowMs  int64
	dirty  bool
	events []Event
	// epochs finalized during this pass, for logging
	settled []int64
}

func (p *pass) emit(ev Event) {
	ev.LobbyID = p.st.LobbyID
	ev.MatchID = p.st.MatchID
	ev.AtMs = p.nowMs
	p.events = append(p.events, ev)
}

// run loads lobbyID, catches it up, applies op and persists when anything changed.
// Catch-up changes are persisted even when op fails, since they are valid on their own.
// Lobbies outside the catalog must already exist.
func (e *Engine) run(ctx context.Context, lobbyID string, op func(p *pass) error) error {
	return e.exec(ctx, lobbyID, false, op)
}

// open is run for operations allowed to instantiate a lobby from the default template.
func (e *Engine) open(ctx context.Context, lobbyID string, op func(p *pass) error) error {
	return e.exec(ctx, lobbyID, true, op)
}

func (e *Engine) exec(ctx context.Context, lobbyID string, create bool, op func(p *pass) error) error {
	spec, ok := e.lobbies.Spec(lobbyID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLobby, lobbyID)
	}
	l, err := e.lobbyLock(ctx, lobbyID, create)
	if err != nil {
		return err
	}
	l.Lock()
	defer l.Unlock()

	st, err := e.store.Load(ctx, lobbyID)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrPersistence, lobbyID, err)
	}
	p := &pass{st: st, spec: spec, nowMs: e.now().UnixMilli()}
	e.catchUp(p)

	var opErr error
	if op != nil {
		opErr = op(p)
	}
	if p.dirty {
		if err := e.store.Save(ctx, p.st); err != nil {
			e.logger.Printf("lobby=%s save failed: %v", lobbyID, err)
			return fmt.Errorf("%w: save %s: %v", ErrPersistence, lobbyID, err)
		}
		for _, ev := range p.events {
			e.rec.Record(ev)
		}
	}
	return opErr
}

func (e *Engine) epochs(spec lobbies.LobbySpec) epoch.Manager {
	return epoch.Manager{
		Seconds:      e.tun.EpochSeconds,
		HistoryLimit: e.tun.EpochHistoryLimit,
		Retention:    e.tun.EpochRetention,
		LockSeconds:  e.tun.BetLockSeconds,
		Mutation:     mutationEngine(spec, e.tun),
		Planner:      e.planner,
	}
}

func (e *Engine) catchUp(p *pass) {
	st := p.st
	var lastSeen int64
	for _, seen := range st.Presence {
		lastSeen = mathx.MaxInt64(lastSeen, seen)
	}
	// When the last listener expired between passes, playback stops at its expiry.
	stopAt := p.nowMs
	if n := e.presence.Prune(st.Presence, p.nowMs); n > 0 {
		p.dirty = true
		if len(st.Presence) == 0 && st.Loop.Running {
			expiry := lastSeen + e.tun.PresenceTTL().Milliseconds()
			stopAt = mathx.MaxInt64(st.Loop.RunStartMs, min(expiry, p.nowMs))
		}
	}
	mgr := e.epochs(p.spec)
	e.materialize(p, mgr, stopAt)
	e.reconcileLoop(p, stopAt)

	res := mgr.Sweep(st, p.nowMs)
	if res.Changed {
		p.dirty = true
	}
	for i := range res.Finalized {
		e.emitEpoch(p, res.Finalized[i])
	}
	if n := len(p.settled); n > 1 {
		e.logger.Printf("lobby=%s finalized %d epochs in one pass (%d..%d)",
			st.LobbyID, n, p.settled[0], p.settled[n-1])
	}
}

func (e *Engine) emitEpoch(p *pass, item model.EpochHistoryItem) {
	p.settled = append(p.settled, item.EpochID)
	p.emit(Event{Kind: EventEpoch, EpochID: item.EpochID, Side: item.Winner, Epoch: &item})
}

// settleThrough finalizes every epoch whose window closed at or before atMs. Turns
// are planned against the agents as they stand after those settlements.
func (e *Engine) settleThrough(p *pass, mgr epoch.Manager, atMs int64) {
	st := p.st
	if st.LastEpochID == 0 {
		return
	}
	for {
		_, end := mgr.Window(st.LastEpochID)
		if end > atMs {
			return
		}
		if item, ok := mgr.Finalize(st, st.LastEpochID, p.nowMs); ok {
			e.emitEpoch(p, item)
		}
		st.LastEpochID++
		p.dirty = true
	}
}

// materialize appends one history item per turn whose play portion ended since the
// last pass, applying that turn's outcome to both agents. Epochs that closed before
// a turn ended are settled first, so the result does not depend on when passes ran.
func (e *Engine) materialize(p *pass, mgr epoch.Manager, atMs int64) {
	st := p.st
	from, to := e.clock.Pending(st.Loop, atMs)
	if from == to {
		return
	}
	eng := mutationEngine(p.spec, e.tun)
	for i := from; i < to; i++ {
		acting := model.ActingSide(i)
		agent := st.Agent(acting)
		turnID := st.TurnID(i)
		tally := ledger.TallyOf(st, turnID)
		startMs, endMs := e.clock.TurnWindow(st.Loop, i, atMs)
		e.settleThrough(p, mgr, endMs)
		params := e.planner.Plan(p.spec, st.MatchID, *agent, i)
		strategy := agent.Strategy

		idx := strconv.FormatInt(i, 10)
		var note string
		for _, side := range []model.Side{model.SideA, model.SideB} {
			rng := e.planner.Seed(st.LobbyID, st.MatchID, idx, string(side), "mutate")
			n := eng.Apply(st.Agent(side), mutation.OutcomeFor(side, tally.Winner), mutation.TurnLevel, rng)
			if side == acting {
				note = n
			}
		}
		agent.TurnsPlayed++

		item := model.ClipHistoryItem{
			Index:        i,
			TurnID:       turnID,
			EpochID:      epoch.ID(startMs, e.tun.EpochSeconds),
			Agent:        acting,
			Strategy:     strategy,
			Params:       params,
			VotesA:       tally.A,
			VotesB:       tally.B,
			Winner:       tally.Winner,
			StartedAtMs:  startMs,
			EndedAtMs:    endMs,
			MutationNote: note,
		}
		st.Clips = append([]model.ClipHistoryItem{item}, st.Clips...)
		p.emit(Event{Kind: EventTurn, TurnID: turnID, Side: tally.Winner, Turn: &item})
	}
	if len(st.Clips) > e.tun.ClipHistoryLimit {
		st.Clips = st.Clips[:e.tun.ClipHistoryLimit]
	}
	st.Loop.MaterializedTurns = to
	ledger.PruneVotes(st, to-int64(e.tun.VoteRetentionTurns))
	p.dirty = true
}

// reconcileLoop runs the loop exactly while listeners are present.
func (e *Engine) reconcileLoop(p *pass, atMs int64) {
	st := p.st
	var changed bool
	if len(st.Presence) > 0 {
		changed = e.clock.Resume(&st.Loop, atMs)
	} else {
		changed = e.clock.Pause(&st.Loop, atMs)
	}
	if changed {
		p.dirty = true
		running := st.Loop.Running
		p.emit(Event{Kind: EventLoop, Running: &running, Listeners: len(st.Presence)})
	}
}
