// Package model holds the persisted lobby aggregate and its parts.
//
// All timestamps are unix milliseconds. A LobbyState is owned by the store; the
// engine mutates a clone and hands it back for persistence.
package model

import "fmt"

const StateVersion = 1

type Side string

const (
	SideA   Side = "A"
	SideB   Side = "B"
	SideTie Side = "TIE"
)

func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideA, SideB:
		return Side(s), true
	}
	return "", false
}

func (s Side) Other() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	}
	return s
}

// ActingSide is the side performing turn index i.
func ActingSide(i int64) Side {
	if i%2 == 0 {
		return SideA
	}
	return SideB
}

type Strategy string

const (
	StrategyAdaptive   Strategy = "ADAPTIVE"
	StrategyAggressive Strategy = "AGGRESSIVE"
	StrategySafe       Strategy = "SAFE"
)

// ParseStrategy falls back to SAFE for anything unrecognized.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyAdaptive, StrategyAggressive, StrategySafe:
		return Strategy(s)
	}
	return StrategySafe
}

var Styles = []string{"memphis", "drift", "aggressive", "minimal", "dark", "melodic"}

func IsStyle(s string) bool {
	for _, v := range Styles {
		if v == s {
			return true
		}
	}
	return false
}

type LoopState struct {
	Running             bool  `json:"running"`
	LoopStartMs         int64 `json:"loop_start_ms"`
	RunStartMs          int64 `json:"run_start_ms"`
	ElapsedAtRunStartMs int64 `json:"elapsed_at_run_start_ms"`
	ElapsedMs           int64 `json:"elapsed_ms"`
	MaterializedTurns   int64 `json:"materialized_turns"`
}

type RuntimeAgent struct {
	ID        Side     `json:"id"`
	Persona   string   `json:"persona"`
	BaseStyle string   `json:"base_style"`
	Style     string   `json:"style"`
	Strategy  Strategy `json:"strategy"`

	Confidence          float64 `json:"confidence"`
	Intensity           float64 `json:"intensity"`
	Volatility          float64 `json:"volatility"`
	TempoPressure       float64 `json:"tempo_pressure"`
	MutationSensitivity float64 `json:"mutation_sensitivity"`
	Risk                float64 `json:"risk"`
	Bankroll            int64   `json:"bankroll"`

	TurnWins    int64 `json:"turn_wins"`
	TurnLosses  int64 `json:"turn_losses"`
	EpochWins   int64 `json:"epoch_wins"`
	EpochLosses int64 `json:"epoch_losses"`
	TurnsPlayed int64 `json:"turns_played"`

	Generation   int64  `json:"generation"`
	LastMutation string `json:"last_mutation,omitempty"`
}

// WinRate is turn wins over decided turns.
func (a RuntimeAgent) WinRate() float64 {
	n := a.TurnWins + a.TurnLosses
	if n == 0 {
		return 0
	}
	return float64(a.TurnWins) / float64(n)
}

type TurnVotes struct {
	TurnID    string          `json:"turn_id"`
	TurnIndex int64           `json:"turn_index"`
	Votes     map[string]Side `json:"votes"`
	A         int64           `json:"a"`
	B         int64           `json:"b"`
}

type EpochAggregate struct {
	EpochID       int64 `json:"epoch_id"`
	VotesA        int64 `json:"votes_a"`
	VotesB        int64 `json:"votes_b"`
	StakeA        int64 `json:"stake_a"`
	StakeB        int64 `json:"stake_b"`
	Winner        Side  `json:"winner,omitempty"`
	FinalizedAtMs int64 `json:"finalized_at_ms,omitempty"`
}

func (e *EpochAggregate) Finalized() bool { return e != nil && e.FinalizedAtMs != 0 }

type EpochBet struct {
	StakeA  int64 `json:"stake_a"`
	StakeB  int64 `json:"stake_b"`
	Claimed bool  `json:"claimed"`
}

// StakeOn returns the amount staked on side.
func (b *EpochBet) StakeOn(side Side) int64 {
	if b == nil {
		return 0
	}
	switch side {
	case SideA:
		return b.StakeA
	case SideB:
		return b.StakeB
	}
	return 0
}

type ClipParams struct {
	Style         string  `json:"style"`
	Intensity     float64 `json:"intensity"`
	Tempo         int     `json:"tempo"`
	Density       float64 `json:"density"`
	Distortion    float64 `json:"distortion"`
	MutationLevel float64 `json:"mutation_level"`
	FXChance      float64 `json:"fx_chance"`
}

type ClipHistoryItem struct {
	Index        int64      `json:"index"`
	TurnID       string     `json:"turn_id"`
	EpochID      int64      `json:"epoch_id"`
	Agent        Side       `json:"agent"`
	Strategy     Strategy   `json:"strategy"`
	Params       ClipParams `json:"params"`
	VotesA       int64      `json:"votes_a"`
	VotesB       int64      `json:"votes_b"`
	Winner       Side       `json:"winner"`
	StartedAtMs  int64      `json:"started_at_ms"`
	EndedAtMs    int64      `json:"ended_at_ms"`
	MutationNote string     `json:"mutation_note"`
}

type EpochHistoryItem struct {
	EpochID       int64  `json:"epoch_id"`
	VotesA        int64  `json:"votes_a"`
	VotesB        int64  `json:"votes_b"`
	StakeA        int64  `json:"stake_a"`
	StakeB        int64  `json:"stake_b"`
	Winner        Side   `json:"winner"`
	FinalizedAtMs int64  `json:"finalized_at_ms"`
	BankrollA     int64  `json:"bankroll_a"`
	BankrollB     int64  `json:"bankroll_b"`
	Note          string `json:"note"`
}

type LobbyState struct {
	Version     int    `json:"version"`
	LobbyID     string `json:"lobby_id"`
	MatchID     string `json:"match_id"`
	CreatedAtMs int64  `json:"created_at_ms"`

	Presence map[string]int64 `json:"presence"`
	Loop     LoopState        `json:"loop"`
	AgentA   RuntimeAgent     `json:"agent_a"`
	AgentB   RuntimeAgent     `json:"agent_b"`

	Clips        []ClipHistoryItem              `json:"clips"`
	Votes        map[string]*TurnVotes          `json:"votes"`
	Epochs       map[int64]*EpochAggregate      `json:"epochs"`
	Bets         map[int64]map[string]*EpochBet `json:"bets"`
	EpochHistory []EpochHistoryItem             `json:"epoch_history"`
	LastEpochID  int64                          `json:"last_epoch_id"`
}

func (s *LobbyState) Agent(side Side) *RuntimeAgent {
	switch side {
	case SideA:
		return &s.AgentA
	case SideB:
		return &s.AgentB
	}
	return nil
}

// TurnID formats the ledger key for turn index i of the current match.
func (s *LobbyState) TurnID(i int64) string {
	return fmt.Sprintf("%s:%d", s.MatchID, i)
}

// EnsureMaps repairs nil maps left by a decoder.
func (s *LobbyState) EnsureMaps() {
	if s.Presence == nil {
		s.Presence = map[string]int64{}
	}
	if s.Votes == nil {
		s.Votes = map[string]*TurnVotes{}
	}
	if s.Epochs == nil {
		s.Epochs = map[int64]*EpochAggregate{}
	}
	if s.Bets == nil {
		s.Bets = map[int64]map[string]*EpochBet{}
	}
}

// Validate checks the invariants a decoded record must satisfy before it is trusted.
func (s *LobbyState) Validate(lobbyID string) error {
	if s.Version != StateVersion {
		return fmt.Errorf("unsupported state version %d", s.Version)
	}
	if s.LobbyID != lobbyID {
		return fmt.Errorf("lobby id mismatch: record=%q want=%q", s.LobbyID, lobbyID)
	}
	if s.MatchID == "" {
		return fmt.Errorf("empty match id")
	}
	if s.AgentA.ID != SideA || s.AgentB.ID != SideB {
		return fmt.Errorf("agent sides out of place: %q/%q", s.AgentA.ID, s.AgentB.ID)
	}
	l := s.Loop
	if l.ElapsedMs < 0 || l.ElapsedAtRunStartMs < 0 || l.MaterializedTurns < 0 {
		return fmt.Errorf("negative loop counters")
	}
	if l.ElapsedAtRunStartMs > l.ElapsedMs {
		return fmt.Errorf("run segment anchor ahead of elapsed")
	}
	if l.Running && l.RunStartMs == 0 {
		return fmt.Errorf("running loop without segment start")
	}
	for id, e := range s.Epochs {
		if e == nil || e.EpochID != id {
			return fmt.Errorf("epoch aggregate %d malformed", id)
		}
	}
	for id, tv := range s.Votes {
		if tv == nil || tv.TurnID != id {
			return fmt.Errorf("turn votes %q malformed", id)
		}
	}
	return nil
}
