// Package mutation evolves an agent's behavioral state from turn and epoch outcomes.
package mutation

import (
	"fmt"
	"strings"

	"musicduel.ai/internal/sim/mathx"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/planner"
)

const (
	ConfidenceMin  = 0.10
	ConfidenceMax  = 0.99
	RiskMin        = 0.08
	RiskMax        = 0.99
	VolatilityMin  = 0.05
	VolatilityMax  = 0.95
	SensitivityMin = 0.05
	SensitivityMax = 0.95

	turnConfidenceStep  = 0.03
	epochConfidenceStep = 0.06
)

type Outcome string

const (
	Win  Outcome = "win"
	Loss Outcome = "loss"
	Tie  Outcome = "tie"
)

// OutcomeFor maps a resolved winner onto side's perspective.
func OutcomeFor(side, winner model.Side) Outcome {
	switch winner {
	case side:
		return Win
	case side.Other():
		return Loss
	}
	return Tie
}

type Level int

const (
	TurnLevel Level = iota
	EpochLevel
)

func (l Level) String() string {
	if l == EpochLevel {
		return "epoch"
	}
	return "turn"
}

type Engine struct {
	IntensityMin float64
	IntensityMax float64
	EpochReward  int64
	EpochPenalty int64
}

// Apply mutates agent for outcome and returns a short note describing what moved.
// rng supplies every random draw, so identical inputs evolve identically.
func (e Engine) Apply(agent *model.RuntimeAgent, outcome Outcome, level Level, rng planner.Source) string {
	f := 1.0
	step := turnConfidenceStep
	if level == EpochLevel {
		f = 2.0
		step = epochConfidenceStep
	}
	before := *agent
	var notes []string

	switch outcome {
	case Tie:
		agent.Confidence += 0.005 * f
		agent.Volatility += (rng.Float64() - 0.5) * 0.04
		agent.Risk += (rng.Float64() - 0.5) * 0.04

	case Win:
		e.countWin(agent, level)
		agent.Confidence += step
		agent.Intensity += 0.02 * f
		agent.TempoPressure += 0.03 * f
		agent.Risk += 0.01 * f
		if agent.Strategy == model.StrategyAdaptive && rng.Float64() < 0.04+0.06*agent.MutationSensitivity {
			notes = append(notes, e.flipStyle(agent, rng))
		}
		if level == EpochLevel {
			agent.Bankroll += e.EpochReward
		}

	case Loss:
		e.countLoss(agent, level)
		agent.Confidence -= step
		switch agent.Strategy {
		case model.StrategyAdaptive:
			if rng.Float64() < 0.2+0.6*agent.MutationSensitivity {
				notes = append(notes, e.flipStyle(agent, rng))
			}
			agent.MutationSensitivity += 0.02 * f
		case model.StrategyAggressive:
			agent.Intensity += 0.08 * f
			agent.Volatility += 0.06 * f
			agent.TempoPressure += 0.08 * f
			agent.Risk += 0.04 * f
		default:
			mid := (e.IntensityMin + e.IntensityMax) / 2
			agent.Volatility -= 0.05 * f
			agent.Intensity += (mid - agent.Intensity) * 0.25 * f
			agent.Risk -= 0.03 * f
		}
		if level == EpochLevel {
			agent.Bankroll -= e.EpochPenalty
		}
	}

	e.Clamp(agent)
	note := fmt.Sprintf("%s %s %s: confidence %.2f->%.2f intensity %.2f->%.2f",
		agent.ID, level, outcome, before.Confidence, agent.Confidence, before.Intensity, agent.Intensity)
	if level == EpochLevel && agent.Bankroll != before.Bankroll {
		note += fmt.Sprintf(" bankroll %d->%d", before.Bankroll, agent.Bankroll)
	}
	if len(notes) > 0 {
		note += "; " + strings.Join(notes, "; ")
	}
	agent.LastMutation = note
	return note
}

func (e Engine) countWin(a *model.RuntimeAgent, level Level) {
	if level == EpochLevel {
		a.EpochWins++
		return
	}
	a.TurnWins++
}

func (e Engine) countLoss(a *model.RuntimeAgent, level Level) {
	if level == EpochLevel {
		a.EpochLosses++
		return
	}
	a.TurnLosses++
}

func (e Engine) flipStyle(a *model.RuntimeAgent, rng planner.Source) string {
	options := make([]string, 0, len(model.Styles)-1)
	for _, s := range model.Styles {
		if s != a.Style {
			options = append(options, s)
		}
	}
	next := options[int(rng.Float64()*float64(len(options)))%len(options)]
	prev := a.Style
	a.Style = next
	a.Generation++
	return fmt.Sprintf("style %s->%s", prev, next)
}

// Clamp bounds every agent field; also applied to agents built from configuration.
func (e Engine) Clamp(a *model.RuntimeAgent) {
	a.Confidence = mathx.Clamp(a.Confidence, ConfidenceMin, ConfidenceMax)
	a.Risk = mathx.Clamp(a.Risk, RiskMin, RiskMax)
	a.Volatility = mathx.Clamp(a.Volatility, VolatilityMin, VolatilityMax)
	a.TempoPressure = mathx.Clamp(a.TempoPressure, 0, 1)
	a.MutationSensitivity = mathx.Clamp(a.MutationSensitivity, SensitivityMin, SensitivityMax)
	a.Intensity = mathx.Clamp(a.Intensity, e.IntensityMin, e.IntensityMax)
	if a.Bankroll < 0 {
		a.Bankroll = 0
	}
}
