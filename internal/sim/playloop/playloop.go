// Package playloop is the per-lobby virtual clock.
//
// Elapsed active time only advances while the loop is running, and the running
// flag only follows listener presence. Everything readable from the clock is a
// pure function of the stored anchors and the supplied now.
package playloop

import "musicduel.ai/internal/sim/model"

type Phase string

const (
	PhasePaused  Phase = "paused"
	PhasePlaying Phase = "playing"
	PhaseGap     Phase = "gap"
)

type Clock struct {
	DurationMs int64
	GapMs      int64
}

func (c Clock) SlotMs() int64 { return c.DurationMs + c.GapMs }

// ElapsedActive is elapsed playback time at now. It has no side effects.
func ElapsedActive(l model.LoopState, nowMs int64) int64 {
	if !l.Running {
		return l.ElapsedMs
	}
	d := nowMs - l.RunStartMs
	if d < 0 {
		d = 0
	}
	return l.ElapsedAtRunStartMs + d
}

// CompletedTurns counts turns whose play portion has ended by elapsed.
func (c Clock) CompletedTurns(elapsedMs int64) int64 {
	if elapsedMs < 0 {
		return 0
	}
	return (elapsedMs + c.GapMs) / c.SlotMs()
}

// Pending returns the half-open index range of turns that should be materialized at now.
func (c Clock) Pending(l model.LoopState, nowMs int64) (from, to int64) {
	to = c.CompletedTurns(ElapsedActive(l, nowMs))
	from = l.MaterializedTurns
	if to < from {
		to = from
	}
	return from, to
}

// Resume moves a paused loop to running. It reports whether l changed.
func (c Clock) Resume(l *model.LoopState, nowMs int64) bool {
	if l.Running {
		return false
	}
	if l.LoopStartMs == 0 {
		l.LoopStartMs = nowMs
	}
	l.Running = true
	l.RunStartMs = nowMs
	l.ElapsedAtRunStartMs = l.ElapsedMs
	return true
}

// Pause folds the current run segment into the accumulated total and snaps it to
// the boundary of the last completed turn, so a partly played turn restarts from
// its beginning on resume. A turn completes when its play portion ends, so pausing
// inside a gap snaps forward to the next slot and drops the rest of the gap.
// Snapping down to the start of that turn would replay a turn that is already
// materialized and reopen it for votes. It reports whether l changed.
func (c Clock) Pause(l *model.LoopState, nowMs int64) bool {
	if !l.Running {
		return false
	}
	total := ElapsedActive(*l, nowMs)
	snapped := c.CompletedTurns(total) * c.SlotMs()
	if snapped < l.ElapsedAtRunStartMs {
		snapped = l.ElapsedAtRunStartMs
	}
	l.Running = false
	l.ElapsedMs = snapped
	l.ElapsedAtRunStartMs = snapped
	l.RunStartMs = 0
	return true
}

type NowPlaying struct {
	Index       int64      `json:"index"`
	Agent       model.Side `json:"agent"`
	OffsetMs    int64      `json:"offset_ms"`
	RemainingMs int64      `json:"remaining_ms"`
	StartedAtMs int64      `json:"started_at_ms"`
	EndsAtMs    int64      `json:"ends_at_ms"`
}

// Current derives what is audible at now. ok is false when paused or inside a gap.
func (c Clock) Current(l model.LoopState, nowMs int64) (np NowPlaying, phase Phase, ok bool) {
	if !l.Running {
		return NowPlaying{}, PhasePaused, false
	}
	elapsed := ElapsedActive(l, nowMs)
	slot := c.SlotMs()
	idx := elapsed / slot
	offset := elapsed - idx*slot
	if offset >= c.DurationMs {
		return NowPlaying{}, PhaseGap, false
	}
	start := nowMs - offset
	return NowPlaying{
		Index:       idx,
		Agent:       model.ActingSide(idx),
		OffsetMs:    offset,
		RemainingMs: c.DurationMs - offset,
		StartedAtMs: start,
		EndsAtMs:    start + c.DurationMs,
	}, PhasePlaying, true
}

// TurnWindow maps turn idx back to wall-clock start/end at now. Turns that began
// before the current run segment get timestamps as if the loop had never paused.
func (c Clock) TurnWindow(l model.LoopState, idx, nowMs int64) (startMs, endMs int64) {
	elapsed := ElapsedActive(l, nowMs)
	startMs = nowMs - (elapsed - idx*c.SlotMs())
	return startMs, startMs + c.DurationMs
}

// NextTurnInMs is the wait until the next turn starts playing, or -1 when paused.
func (c Clock) NextTurnInMs(l model.LoopState, nowMs int64) int64 {
	if !l.Running {
		return -1
	}
	elapsed := ElapsedActive(l, nowMs)
	slot := c.SlotMs()
	return slot - elapsed%slot
}
