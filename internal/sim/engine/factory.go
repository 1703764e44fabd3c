package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/mutation"
	"musicduel.ai/internal/sim/tuning"
)

// Factory builds fresh lobby records. The store uses it on a miss or after
// discarding an invalid record; Reset uses it to wipe a lobby.
type Factory struct {
	Lobbies lobbies.Config
	Tuning  tuning.Tuning
	Now     func() time.Time
	// NewMatchID defaults to uuid.NewString.
	NewMatchID func() string
}

func (f Factory) nowMs() int64 {
	if f.Now == nil {
		return time.Now().UnixMilli()
	}
	return f.Now().UnixMilli()
}

func (f Factory) matchID() string {
	if f.NewMatchID != nil {
		return f.NewMatchID()
	}
	return uuid.NewString()
}

// New returns a default LobbyState for lobbyID with a fresh match id.
func (f Factory) New(lobbyID string) (*model.LobbyState, error) {
	spec, ok := f.Lobbies.Spec(lobbyID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLobby, lobbyID)
	}
	st := &model.LobbyState{
		Version:     model.StateVersion,
		LobbyID:     lobbyID,
		MatchID:     f.matchID(),
		CreatedAtMs: f.nowMs(),
		AgentA:      f.Agent(spec, model.SideA),
		AgentB:      f.Agent(spec, model.SideB),
	}
	st.EnsureMaps()
	return st, nil
}

// Agent builds side's starting agent from the lobby spec, clamped to the engine bounds.
func (f Factory) Agent(spec lobbies.LobbySpec, side model.Side) model.RuntimeAgent {
	as := spec.Agent(side)
	a := model.RuntimeAgent{
		ID:                  side,
		Persona:             as.Persona,
		BaseStyle:           as.Style,
		Style:               as.Style,
		Strategy:            model.ParseStrategy(as.Strategy),
		Confidence:          as.Confidence,
		Intensity:           as.Intensity,
		Volatility:          as.Volatility,
		TempoPressure:       as.TempoPressure,
		MutationSensitivity: as.MutationSensitivity,
		Risk:                as.Risk,
		Bankroll:            f.Tuning.Economy.StartingBankroll,
	}
	mutationEngine(spec, f.Tuning).Clamp(&a)
	return a
}

func mutationEngine(spec lobbies.LobbySpec, t tuning.Tuning) mutation.Engine {
	return mutation.Engine{
		IntensityMin: spec.IntensityMin,
		IntensityMax: spec.IntensityMax,
		EpochReward:  t.Economy.EpochReward,
		EpochPenalty: t.Economy.EpochPenalty,
	}
}
