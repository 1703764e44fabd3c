package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"musicduel.ai/internal/persistence/lobbystore"
	"musicduel.ai/internal/sim/ledger"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/playloop"
	"musicduel.ai/internal/sim/tuning"
)

const (
	hourMs = int64(3600 * 1000)
	epochN = int64(480000)
	// one minute into epoch N, so turn scenarios never straddle a window
	t0 = epochN*hourMs + 60_000

	alice    = "0x00000000000000000000000000000000000000aa"
	bob      = "0x00000000000000000000000000000000000000bb"
	listener = "listener-0001"
)

type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

type captured struct {
	mu     sync.Mutex
	events []Event
}

func (c *captured) Record(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captured) kinds(k EventKind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	eng *Engine
	mem *lobbystore.MemoryBackend
	clk *fakeClock
	rec *captured
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &fakeClock{ms: t0}
	n := 0
	f := Factory{
		Lobbies: lobbies.Defaults(),
		Tuning:  tuning.Defaults(),
		Now:     clk.Now,
		NewMatchID: func() string {
			n++
			return fmt.Sprintf("match-%d", n)
		},
	}
	mem := lobbystore.NewMemoryBackend()
	rec := &captured{}
	eng := New(Options{
		Store:    lobbystore.New(mem, f.New, nil),
		Factory:  f,
		Recorder: rec,
		Now:      clk.Now,
	})
	return &harness{eng: eng, mem: mem, clk: clk, rec: rec}
}

func (h *harness) at(offsetMs int64) { h.clk.Set(t0 + offsetMs) }

func (h *harness) snapshot(t *testing.T, address string) Snapshot {
	t.Helper()
	s, err := h.eng.Snapshot(context.Background(), "main", address)
	require.NoError(t, err)
	return s
}

func (h *harness) join(t *testing.T) {
	t.Helper()
	_, err := h.eng.Join(context.Background(), "main", listener)
	require.NoError(t, err)
}

func TestScenario_TurnsMaterializeAtEndOfPlay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t)

	h.at(9_999)
	s := h.snapshot(t, "")
	require.Empty(t, s.Clips)
	require.Equal(t, playloop.PhasePlaying, s.Phase)
	require.NotNil(t, s.NowPlaying)
	require.Equal(t, "match-1:0", s.NowPlaying.TurnID)
	require.Equal(t, model.SideA, s.NowPlaying.Agent)

	h.at(12_500)
	s = h.snapshot(t, "")
	require.Len(t, s.Clips, 1)
	require.EqualValues(t, 0, s.Clips[0].Index)
	require.Equal(t, model.SideA, s.Clips[0].Agent)
	require.Equal(t, t0, s.Clips[0].StartedAtMs)
	require.Equal(t, t0+10_000, s.Clips[0].EndedAtMs)
	require.Equal(t, epochN, s.Clips[0].EpochID)

	h.at(20_000)
	h.join(t)

	h.at(25_000)
	s = h.snapshot(t, "")
	require.Len(t, s.Clips, 2)
	require.EqualValues(t, 1, s.Clips[0].Index)
	require.Equal(t, model.SideB, s.Clips[0].Agent)
	require.EqualValues(t, 1, s.Agent(model.SideA).TurnsPlayed)
	require.EqualValues(t, 1, s.Agent(model.SideB).TurnsPlayed)

	h.at(30_000)
	_, err := h.eng.Vote(ctx, "main", "match-1:1", "A", alice)
	require.ErrorIs(t, err, ledger.ErrTurnMismatch)

	tally, err := h.eng.Vote(ctx, "main", "match-1:2", "A", alice)
	require.NoError(t, err)
	require.Equal(t, ledger.Tally{TurnID: "match-1:2", A: 1, Winner: model.SideA}, tally)

	_, err = h.eng.Vote(ctx, "main", "match-1:2", "B", alice)
	require.ErrorIs(t, err, ledger.ErrAlreadyVoted)

	h.at(37_500)
	s = h.snapshot(t, alice)
	require.Len(t, s.Clips, 3)
	require.Equal(t, model.SideA, s.Clips[0].Winner)
	require.EqualValues(t, 1, s.Clips[0].VotesA)
	require.EqualValues(t, 1, s.Epoch.VotesA)
}

func TestVote_IdleAndGap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Vote(ctx, "main", "match-1:0", "A", alice)
	require.ErrorIs(t, err, ledger.ErrLobbyIdle)

	h.join(t)
	h.at(11_000)
	s := h.snapshot(t, "")
	require.Equal(t, playloop.PhaseGap, s.Phase)
	require.Nil(t, s.NowPlaying)
	_, err = h.eng.Vote(ctx, "main", "match-1:0", "A", alice)
	require.ErrorIs(t, err, ledger.ErrLobbyIdle)

	_, err = h.eng.Vote(ctx, "main", "match-1:1", "A", "not-an-address")
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)
}

func TestSnapshot_IdempotentWithoutWrites(t *testing.T) {
	h := newHarness(t)
	h.join(t)

	h.at(26_000)
	first := h.snapshot(t, alice)
	writes := h.mem.Writes()

	second := h.snapshot(t, alice)
	require.Equal(t, first, second)
	require.Equal(t, writes, h.mem.Writes())

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))

	// within a turn nothing new completes, so a later read also stays read-only
	h.at(27_000)
	h.snapshot(t, "")
	require.Equal(t, writes, h.mem.Writes())
}

func TestSnapshot_IdleLobbyDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	h.snapshot(t, "")
	writes := h.mem.Writes()
	for _, off := range []int64{1_000, 60_000, 600_000} {
		h.at(off)
		s := h.snapshot(t, "")
		require.Equal(t, playloop.PhasePaused, s.Phase)
		require.EqualValues(t, -1, s.NextTurnInMs)
	}
	require.Equal(t, writes, h.mem.Writes())
}

func TestMaterialization_IndependentOfPollFrequency(t *testing.T) {
	const horizon = int64(200_000)
	slot := tuning.Defaults().SlotMs()
	gap := tuning.Defaults().TurnGapMs

	busy, lazy := newHarness(t), newHarness(t)
	for _, h := range []*harness{busy, lazy} {
		h.join(t)
	}

	heartbeat := int64(25_000)
	for off := int64(0); off <= horizon; off += 1_337 {
		busy.at(off)
		if off/heartbeat != (off-1_337)/heartbeat && off > 0 {
			busy.join(t)
		}
		s := busy.snapshot(t, "")
		require.Equal(t, (off+gap)/slot, s.CompletedTurns, "at +%dms", off)
	}
	for beat := heartbeat; beat <= horizon; beat += heartbeat {
		lazy.at(beat)
		lazy.join(t)
	}

	// align the last heartbeat in both lobbies before comparing
	for _, h := range []*harness{busy, lazy} {
		h.at(horizon)
		h.join(t)
	}
	a, b := busy.snapshot(t, ""), lazy.snapshot(t, "")
	require.Equal(t, (horizon+gap)/slot, a.CompletedTurns)
	require.Equal(t, a.Clips, b.Clips)
	require.Equal(t, a.Agents, b.Agents)
	require.Equal(t, a.CompletedTurns, b.CompletedTurns)
}

func TestMaterialization_AcrossEpochBoundary(t *testing.T) {
	// t0 sits one minute into epoch N
	boundary := hourMs - 60_000

	busy, lazy := newHarness(t), newHarness(t)
	for _, h := range []*harness{busy, lazy} {
		h.at(boundary - 5_000)
		h.join(t)
	}
	busy.at(boundary)
	require.Empty(t, busy.snapshot(t, "").Clips)

	for _, h := range []*harness{busy, lazy} {
		h.at(boundary + 20_000)
		h.join(t)
	}
	a, b := busy.snapshot(t, ""), lazy.snapshot(t, "")
	require.Len(t, a.Clips, 2)
	require.Equal(t, a.Clips, b.Clips)
	require.Equal(t, a.Agents, b.Agents)

	require.Len(t, a.EpochHistory, 1)
	require.Len(t, b.EpochHistory, 1)
	require.Equal(t, epochN, b.EpochHistory[0].EpochID)
	require.Equal(t, a.EpochHistory[0].BankrollA, b.EpochHistory[0].BankrollA)
	require.Equal(t, a.EpochHistory[0].BankrollB, b.EpochHistory[0].BankrollB)
	require.Equal(t, a.EpochHistory[0].Note, b.EpochHistory[0].Note)

	// the settlement is published before the turns it shaped
	var kinds []EventKind
	for _, ev := range lazy.rec.events {
		if ev.Kind == EventEpoch || ev.Kind == EventTurn {
			kinds = append(kinds, ev.Kind)
		}
	}
	require.Equal(t, []EventKind{EventEpoch, EventTurn, EventTurn}, kinds)
}

func TestEpochSweep_ThreeIdleWindows(t *testing.T) {
	h := newHarness(t)
	h.snapshot(t, "")

	h.at(3 * hourMs)
	s := h.snapshot(t, "")
	require.Len(t, s.EpochHistory, 3)
	require.Equal(t, []int64{epochN + 2, epochN + 1, epochN},
		[]int64{s.EpochHistory[0].EpochID, s.EpochHistory[1].EpochID, s.EpochHistory[2].EpochID})
	require.Equal(t, epochN+3, s.Epoch.ID)
	require.False(t, s.Epoch.Finalized)

	evs := h.rec.kinds(EventEpoch)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		require.Equal(t, epochN+int64(i), ev.EpochID)
	}

	// nothing is finalized twice
	s = h.snapshot(t, "")
	require.Len(t, s.EpochHistory, 3)
	require.Len(t, h.rec.kinds(EventEpoch), 3)
}

func TestEpoch_BankrollDirection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t)

	h.at(1_000)
	_, err := h.eng.Vote(ctx, "main", "match-1:0", "A", alice)
	require.NoError(t, err)
	require.NoError(t, h.eng.Leave(ctx, "main", listener))

	before := h.snapshot(t, "")
	require.Empty(t, before.Clips)
	a0, b0 := before.Agent(model.SideA).Bankroll, before.Agent(model.SideB).Bankroll

	h.at(hourMs)
	s := h.snapshot(t, "")
	require.Len(t, s.EpochHistory, 1)
	require.Equal(t, model.SideA, s.EpochHistory[0].Winner)

	econ := tuning.Defaults().Economy
	require.Equal(t, a0+econ.EpochReward, s.Agent(model.SideA).Bankroll)
	require.Equal(t, max(0, b0-econ.EpochPenalty), s.Agent(model.SideB).Bankroll)
	require.EqualValues(t, 1, s.Agent(model.SideA).EpochWins)
	require.EqualValues(t, 1, s.Agent(model.SideB).EpochLosses)
}

func TestClaims_Gating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t)

	h.at(1_000)
	_, err := h.eng.PlaceBet(ctx, "main", epochN, "A", 100, alice)
	require.NoError(t, err)
	_, err = h.eng.PlaceBet(ctx, "main", epochN, "B", 50, bob)
	require.NoError(t, err)
	_, err = h.eng.PlaceBet(ctx, "main", epochN+1, "A", 5, alice)
	require.ErrorIs(t, err, ledger.ErrEpochMismatch)
	_, err = h.eng.PlaceBet(ctx, "main", epochN, "A", 0, alice)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = h.eng.Vote(ctx, "main", "match-1:0", "A", alice)
	require.NoError(t, err)

	s := h.snapshot(t, alice)
	require.NotNil(t, s.Caller)
	require.EqualValues(t, 100, s.Caller.Stake.StakeA)
	require.Empty(t, s.Caller.Claimable)
	require.EqualValues(t, 100, s.Epoch.StakeA)
	require.EqualValues(t, 50, s.Epoch.StakeB)

	require.NoError(t, h.eng.Leave(ctx, "main", listener))
	h.at(hourMs + 1_000)

	_, err = h.eng.PlaceBet(ctx, "main", epochN, "A", 10, alice)
	require.ErrorIs(t, err, ledger.ErrEpochMismatch)
	_, err = h.eng.PlaceBet(ctx, "main", epochN+1, "A", 10, alice)
	require.NoError(t, err)

	s = h.snapshot(t, alice)
	require.Equal(t, []ledger.Claimable{{EpochID: epochN, Winner: model.SideA, Stake: 100}}, s.Caller.Claimable)
	s = h.snapshot(t, bob)
	require.Empty(t, s.Caller.Claimable)

	_, err = h.eng.MarkClaimed(ctx, "main", epochN, bob)
	require.ErrorIs(t, err, ledger.ErrNotClaimable)
	_, err = h.eng.MarkClaimed(ctx, "main", epochN+1, alice)
	require.ErrorIs(t, err, ledger.ErrNotClaimable)

	c, err := h.eng.MarkClaimed(ctx, "main", epochN, alice)
	require.NoError(t, err)
	require.EqualValues(t, 100, c.Stake)
	_, err = h.eng.MarkClaimed(ctx, "main", epochN, alice)
	require.ErrorIs(t, err, ledger.ErrNotClaimable)

	s = h.snapshot(t, alice)
	require.Empty(t, s.Caller.Claimable)
	require.Len(t, h.rec.kinds(EventClaim), 1)
}

func TestBetLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.eng.tun.BetLockSeconds = 600

	h.at(hourMs - 60_000 - 600_000 - 1)
	_, err := h.eng.PlaceBet(ctx, "main", epochN, "A", 10, alice)
	require.NoError(t, err)

	h.at(hourMs - 60_000 - 600_000)
	_, err = h.eng.PlaceBet(ctx, "main", epochN, "A", 10, alice)
	require.ErrorIs(t, err, ledger.ErrBettingClosed)
	require.False(t, h.snapshot(t, "").Epoch.BettingOpen)
}

func TestPersistenceFailure_NothingApplied(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t)

	h.at(1_000)
	h.mem.Fail = errors.New("disk full")
	_, err := h.eng.Vote(ctx, "main", "match-1:0", "A", alice)
	require.ErrorIs(t, err, ErrPersistence)
	require.Empty(t, h.rec.kinds(EventVote))

	h.mem.Fail = nil
	s := h.snapshot(t, "")
	require.NotNil(t, s.Tally)
	require.Zero(t, s.Tally.A)

	_, err = h.eng.Vote(ctx, "main", "match-1:0", "A", alice)
	require.NoError(t, err)
	require.Len(t, h.rec.kinds(EventVote), 1)
}

func TestListenerExpiry_PausesAtExpiry(t *testing.T) {
	h := newHarness(t)
	h.join(t)

	// listener last seen at t0 expires at t0+30s; turns 0 and 1 have completed by then
	h.at(600_000)
	s := h.snapshot(t, "")
	require.Equal(t, playloop.PhasePaused, s.Phase)
	require.Zero(t, s.Listeners)
	require.EqualValues(t, 2, s.CompletedTurns)
	require.EqualValues(t, 25_000, s.ElapsedMs)
	require.Len(t, s.Clips, 2)

	// the next listener resumes from the snapped boundary: turn 2 plays from its start
	h.join(t)
	s = h.snapshot(t, "")
	require.Equal(t, playloop.PhasePlaying, s.Phase)
	require.EqualValues(t, 2, s.NowPlaying.Index)
	require.Zero(t, s.NowPlaying.OffsetMs)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.join(t)
	h.at(26_000)
	_, err := h.eng.PlaceBet(ctx, "main", epochN, "A", 10, alice)
	require.NoError(t, err)

	matchID, err := h.eng.Reset(ctx, "main", false)
	require.NoError(t, err)
	require.Equal(t, "match-2", matchID)

	s := h.snapshot(t, alice)
	require.Equal(t, "match-2", s.MatchID)
	require.Empty(t, s.Clips)
	require.Equal(t, 1, s.Listeners)
	require.Equal(t, playloop.PhasePlaying, s.Phase)
	require.EqualValues(t, 0, s.NowPlaying.Index)
	require.Zero(t, s.Caller.Stake.StakeA)
	require.Len(t, h.rec.kinds(EventReset), 1)

	_, err = h.eng.Reset(ctx, "main", true)
	require.NoError(t, err)
	s = h.snapshot(t, "")
	require.Zero(t, s.Listeners)
	require.Equal(t, playloop.PhasePaused, s.Phase)
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.eng.Start(ctx, "main"))
	require.Equal(t, playloop.PhasePaused, h.snapshot(t, "").Phase)

	h.join(t)
	require.NoError(t, h.eng.Start(ctx, "main"))
	require.Equal(t, playloop.PhasePlaying, h.snapshot(t, "").Phase)
}

func TestJoin_MintsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id, err := h.eng.Join(ctx, "main", "")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotEqual(t, listener, id)

	same, err := h.eng.Join(ctx, "main", id)
	require.NoError(t, err)
	require.Equal(t, id, same)
	require.Equal(t, 1, h.snapshot(t, "").Listeners)

	require.NoError(t, h.eng.Leave(ctx, "main", "never-joined-01"))
	require.NoError(t, h.eng.Leave(ctx, "main", id))
	require.Zero(t, h.snapshot(t, "").Listeners)
}

func TestLobbyIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Snapshot(ctx, "Not A Lobby", "")
	require.ErrorIs(t, err, ErrUnknownLobby)

	_, err = h.eng.Snapshot(ctx, "side-room", "")
	require.ErrorIs(t, err, ErrUnknownLobby)

	_, err = h.eng.Join(ctx, "side-room", listener)
	require.NoError(t, err)
	s, err := h.eng.Snapshot(ctx, "side-room", "")
	require.NoError(t, err)
	require.Equal(t, "side-room", s.LobbyID)
	require.Equal(t, "Night Driver", s.Agent(model.SideA).Persona)

	_, err = h.eng.Snapshot(ctx, "main", "0xnope")
	require.ErrorIs(t, err, ledger.ErrInvalidAddress)
}

func TestUnopenedLobbies_ReadsLeaveNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("junk-%d", i)
		_, err := h.eng.Snapshot(ctx, id, "")
		require.ErrorIs(t, err, ErrUnknownLobby)
		require.ErrorIs(t, h.eng.Leave(ctx, id, listener), ErrUnknownLobby)
		_, err = h.eng.Vote(ctx, id, "m:0", "A", alice)
		require.ErrorIs(t, err, ErrUnknownLobby)
	}
	require.Zero(t, h.mem.Writes())
	h.eng.mu.Lock()
	require.Empty(t, h.eng.locks)
	h.eng.mu.Unlock()

	// a record written by an earlier process is still served
	other := newHarness(t)
	_, err := other.eng.Join(ctx, "side-room", listener)
	require.NoError(t, err)
	raw, err := other.mem.Read(ctx, "side-room")
	require.NoError(t, err)
	h.mem.Put("side-room", raw)
	s, err := h.eng.Snapshot(ctx, "side-room", "")
	require.NoError(t, err)
	require.Equal(t, "side-room", s.LobbyID)
}

func TestOpenLobbies_Capped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	limit := h.eng.Tuning().MaxLobbies

	for i := 0; i < limit; i++ {
		_, err := h.eng.Join(ctx, fmt.Sprintf("room-%d", i), listener)
		require.NoError(t, err)
	}
	_, err := h.eng.Join(ctx, "one-too-many", listener)
	require.ErrorIs(t, err, ErrLobbyLimit)

	// open and catalog lobbies keep working
	_, err = h.eng.Join(ctx, "room-0", listener)
	require.NoError(t, err)
	h.snapshot(t, "")
}

func TestRenderRequestMatchesHistory(t *testing.T) {
	h := newHarness(t)
	h.join(t)
	h.at(3_000)
	playing := h.snapshot(t, "")
	require.NotNil(t, playing.NowPlaying)
	render := playing.NowPlaying.Render

	h.at(12_500)
	s := h.snapshot(t, "")
	require.Equal(t, render.Params, s.Clips[0].Params)
	require.Equal(t, "main", render.LobbyID)
	require.Equal(t, "match-1", render.MatchID)
	require.Equal(t, model.SideA, render.AgentID)
}
