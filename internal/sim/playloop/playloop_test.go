package playloop

import (
	"testing"

	"musicduel.ai/internal/sim/model"
)

var clk = Clock{DurationMs: 10_000, GapMs: 2_500}

const t0 = int64(1_700_000_000_000)

func running() model.LoopState {
	var l model.LoopState
	clk.Resume(&l, t0)
	return l
}

func TestElapsedActive_PureAndRepeatable(t *testing.T) {
	l := running()
	before := l
	for i := 0; i < 3; i++ {
		if got := ElapsedActive(l, t0+7_000); got != 7_000 {
			t.Fatalf("elapsed: got %d", got)
		}
	}
	if l != before {
		t.Fatalf("ElapsedActive mutated loop state")
	}
	if got := ElapsedActive(l, t0-5); got != 0 {
		t.Fatalf("clock skew should clamp to 0, got %d", got)
	}
}

func TestCompletedTurns(t *testing.T) {
	cases := []struct {
		elapsed int64
		want    int64
	}{
		{0, 0},
		{9_999, 0},
		{10_000, 1},
		{12_499, 1},
		{12_500, 1},
		{22_500, 2},
		{25_000, 2},
		{37_500, 3},
	}
	for _, tc := range cases {
		if got := clk.CompletedTurns(tc.elapsed); got != tc.want {
			t.Fatalf("CompletedTurns(%d)=%d want %d", tc.elapsed, got, tc.want)
		}
	}
}

func TestPending_MonotonicCounter(t *testing.T) {
	l := running()
	from, to := clk.Pending(l, t0+25_000)
	if from != 0 || to != 2 {
		t.Fatalf("pending: [%d,%d)", from, to)
	}
	l.MaterializedTurns = 2
	from, to = clk.Pending(l, t0+25_000)
	if from != to {
		t.Fatalf("second call with same now should have no work: [%d,%d)", from, to)
	}
}

func TestPause_SnapsToCompletedBoundary(t *testing.T) {
	cases := []struct {
		name    string
		pauseAt int64
		want    int64
	}{
		{"mid play restarts turn", 5_000, 0},
		{"inside gap skips rest of gap", 11_000, 12_500},
		{"mid second turn", 20_000, 12_500},
		{"exact boundary", 25_000, 25_000},
	}
	for _, tc := range cases {
		l := running()
		if !clk.Pause(&l, t0+tc.pauseAt) {
			t.Fatalf("%s: pause reported no change", tc.name)
		}
		if l.Running || l.ElapsedMs != tc.want || l.ElapsedAtRunStartMs != tc.want {
			t.Fatalf("%s: got %+v want elapsed %d", tc.name, l, tc.want)
		}
		if clk.Pause(&l, t0+tc.pauseAt+1) {
			t.Fatalf("%s: second pause should be a no-op", tc.name)
		}
	}
}

func TestPauseResume_CarriesElapsed(t *testing.T) {
	l := running()
	clk.Pause(&l, t0+30_000) // 2 completed -> 25_000
	if !clk.Resume(&l, t0+100_000) {
		t.Fatalf("resume reported no change")
	}
	if l.LoopStartMs != t0 {
		t.Fatalf("loop start should be kept: %d", l.LoopStartMs)
	}
	if got := ElapsedActive(l, t0+105_000); got != 30_000 {
		t.Fatalf("elapsed after resume: %d", got)
	}
	if clk.Resume(&l, t0+106_000) {
		t.Fatalf("resume of running loop should be a no-op")
	}
}

func TestCurrent(t *testing.T) {
	l := running()
	np, phase, ok := clk.Current(l, t0+3_000)
	if !ok || phase != PhasePlaying || np.Index != 0 || np.Agent != model.SideA {
		t.Fatalf("turn 0: %+v %s %v", np, phase, ok)
	}
	if np.StartedAtMs != t0 || np.EndsAtMs != t0+10_000 || np.RemainingMs != 7_000 {
		t.Fatalf("turn 0 window: %+v", np)
	}
	if _, phase, ok := clk.Current(l, t0+11_000); ok || phase != PhaseGap {
		t.Fatalf("expected gap, got %s %v", phase, ok)
	}
	np, _, ok = clk.Current(l, t0+13_000)
	if !ok || np.Index != 1 || np.Agent != model.SideB {
		t.Fatalf("turn 1: %+v", np)
	}
	np, _, ok = clk.Current(l, t0+30_000)
	if !ok || np.Index != 2 {
		t.Fatalf("turn 2: %+v", np)
	}
	var paused model.LoopState
	if _, phase, ok := clk.Current(paused, t0); ok || phase != PhasePaused {
		t.Fatalf("paused loop should be idle")
	}
}

func TestTurnWindowAndNextTurn(t *testing.T) {
	l := running()
	s, e := clk.TurnWindow(l, 1, t0+40_000)
	if s != t0+12_500 || e != t0+22_500 {
		t.Fatalf("turn 1 window: %d..%d", s-t0, e-t0)
	}
	if got := clk.NextTurnInMs(l, t0+11_000); got != 1_500 {
		t.Fatalf("next turn in: %d", got)
	}
	var paused model.LoopState
	if clk.NextTurnInMs(paused, t0) != -1 {
		t.Fatalf("paused loop has no next turn")
	}
}
