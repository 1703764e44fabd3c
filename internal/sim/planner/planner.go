// Package planner derives clip parameters for a turn.
//
// Plan is a pure function of (lobby spec, match id, turn index, agent snapshot):
// turns are never stored as audio, only re-derived on demand.
package planner

import (
	"math"
	"strconv"

	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/mathx"
	"musicduel.ai/internal/sim/model"
)

const (
	TempoMin = 88
	TempoMax = 170
)

type Planner struct {
	Hasher    Hasher
	NewSource func(seed uint32) Source
}

func Default() Planner {
	return Planner{
		Hasher:    FNV1a{},
		NewSource: func(seed uint32) Source { return NewMulberry32(seed) },
	}
}

// Seed builds a generator from the hash of the joined parts.
func (p Planner) Seed(parts ...string) Source {
	return p.NewSource(p.Hasher.Sum32(SeedString(parts...)))
}

type offsets struct {
	intensity  float64
	density    float64
	distortion float64
	tempo      float64
	mutation   float64
}

var styleOffsets = map[string]offsets{
	"memphis":    {intensity: 0.04, density: 0.05, distortion: 0.05, tempo: -4},
	"drift":      {intensity: 0.02, density: -0.02, distortion: 0.02, tempo: 6},
	"aggressive": {intensity: 0.12, density: 0.1, distortion: 0.12, tempo: 10},
	"minimal":    {intensity: -0.1, density: -0.15, distortion: -0.06, tempo: -2},
	"dark":       {intensity: -0.02, density: -0.05, distortion: 0.08, tempo: -8},
	"melodic":    {intensity: -0.05, density: 0.02, distortion: -0.08, tempo: 2},
}

var strategyOffsets = map[model.Strategy]offsets{
	model.StrategyAggressive: {intensity: 0.12, density: 0.06, distortion: 0.08, tempo: 6, mutation: 0.05},
	model.StrategyAdaptive:   {mutation: 0.1},
	model.StrategySafe:       {intensity: -0.06, density: -0.03, distortion: -0.05, tempo: -3, mutation: -0.05},
}

// Plan derives the clip a given agent performs on turn idx.
func (p Planner) Plan(lobby lobbies.LobbySpec, matchID string, agent model.RuntimeAgent, idx int64) model.ClipParams {
	rng := p.Seed(lobby.ID, matchID, strconv.FormatInt(idx, 10), string(agent.ID))
	st := strategyOffsets[model.ParseStrategy(string(agent.Strategy))]

	style := agent.Style
	if !model.IsStyle(style) {
		style = agent.BaseStyle
	}
	if rng.Float64() < agent.Volatility*0.35 {
		style = model.Styles[int(rng.Float64()*float64(len(model.Styles)))%len(model.Styles)]
	} else {
		_ = rng.Float64() // fixed draw count per plan
	}
	so := styleOffsets[style]

	intensity := agent.Intensity + lobby.IntensityBias + st.intensity + so.intensity +
		(rng.Float64()-0.5)*agent.Volatility*0.5
	tempo := float64(lobby.TempoBase) + (agent.TempoPressure-0.5)*float64(lobby.TempoSpread) +
		so.tempo + st.tempo + (rng.Float64()-0.5)*float64(lobby.TempoSpread)*0.5
	density := 0.35 + agent.Confidence*0.3 + agent.Risk*0.2 + lobby.DensityBias + st.density + so.density +
		(rng.Float64()-0.5)*0.2
	distortion := 0.15 + agent.Risk*0.45 + lobby.DistortionBias + st.distortion + so.distortion +
		rng.Float64()*0.15*agent.Volatility
	mutation := agent.MutationSensitivity*0.6 + agent.Volatility*0.3 + st.mutation +
		(1-agent.Confidence)*0.2*rng.Float64()
	fx := 0.2 + agent.Volatility*0.4 + lobby.FXBias + rng.Float64()*0.2

	return model.ClipParams{
		Style:         style,
		Intensity:     mathx.Round4(mathx.Clamp(intensity, 0.05, 1)),
		Tempo:         int(mathx.Clamp(math.Round(tempo), TempoMin, TempoMax)),
		Density:       mathx.Round4(mathx.Clamp(density, 0.1, 1)),
		Distortion:    mathx.Round4(mathx.Clamp(distortion, 0, 1)),
		MutationLevel: mathx.Round4(mathx.Clamp(mutation, 0, 1)),
		FXChance:      mathx.Round4(mathx.Clamp(fx, 0.05, 0.95)),
	}
}

// RenderRequest is what the audio renderer consumes for one clip.
type RenderRequest struct {
	LobbyID   string           `json:"lobby_id"`
	MatchID   string           `json:"match_id"`
	TurnIndex int64            `json:"turn_index"`
	AgentID   model.Side       `json:"agent_id"`
	Persona   string           `json:"persona"`
	Strategy  model.Strategy   `json:"strategy"`
	Params    model.ClipParams `json:"params"`
}

func (p Planner) Render(lobby lobbies.LobbySpec, matchID string, agent model.RuntimeAgent, idx int64) RenderRequest {
	return RenderRequest{
		LobbyID:   lobby.ID,
		MatchID:   matchID,
		TurnIndex: idx,
		AgentID:   agent.ID,
		Persona:   agent.Persona,
		Strategy:  agent.Strategy,
		Params:    p.Plan(lobby, matchID, agent, idx),
	}
}
