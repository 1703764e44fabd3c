package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TurnDurationMs     int64 `yaml:"turn_duration_ms"`
	TurnGapMs          int64 `yaml:"turn_gap_ms"`
	EpochSeconds       int64 `yaml:"epoch_seconds"`
	PresenceTTLSeconds int64 `yaml:"presence_ttl_seconds"`

	ClipHistoryLimit   int `yaml:"clip_history_limit"`
	EpochHistoryLimit  int `yaml:"epoch_history_limit"`
	VoteRetentionTurns int `yaml:"vote_retention_turns"`
	EpochRetention     int `yaml:"epoch_retention"`
	// MaxLobbies caps how many lobbies outside the catalog one process serves.
	MaxLobbies int `yaml:"max_lobbies"`

	BetLockSeconds int64 `yaml:"bet_lock_seconds"`
	MinBet         int64 `yaml:"min_bet"`
	MaxBet         int64 `yaml:"max_bet"`

	Economy Economy `yaml:"economy"`
}

type Economy struct {
	StartingBankroll int64 `yaml:"starting_bankroll"`
	EpochReward      int64 `yaml:"epoch_reward"`
	EpochPenalty     int64 `yaml:"epoch_penalty"`
}

func Defaults() Tuning {
	return Tuning{
		TurnDurationMs:     10_000,
		TurnGapMs:          2_500,
		EpochSeconds:       3600,
		PresenceTTLSeconds: 30,
		ClipHistoryLimit:   24,
		EpochHistoryLimit:  48,
		VoteRetentionTurns: 64,
		EpochRetention:     336,
		MaxLobbies:         64,
		BetLockSeconds:     0,
		MinBet:             1,
		MaxBet:             1_000_000_000_000_000,
		Economy: Economy{
			StartingBankroll: 1000,
			EpochReward:      120,
			EpochPenalty:     80,
		},
	}
}

// Load reads path over Defaults(); keys absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TurnDurationMs <= 0 {
		return fmt.Errorf("turn_duration_ms must be > 0")
	}
	if t.TurnGapMs < 0 {
		return fmt.Errorf("turn_gap_ms must be >= 0")
	}
	if t.EpochSeconds <= 0 {
		return fmt.Errorf("epoch_seconds must be > 0")
	}
	if t.PresenceTTLSeconds <= 0 {
		return fmt.Errorf("presence_ttl_seconds must be > 0")
	}
	if t.ClipHistoryLimit <= 0 || t.EpochHistoryLimit <= 0 {
		return fmt.Errorf("history limits must be > 0")
	}
	if t.VoteRetentionTurns < t.ClipHistoryLimit {
		return fmt.Errorf("vote_retention_turns must be >= clip_history_limit")
	}
	if t.EpochRetention < t.EpochHistoryLimit {
		return fmt.Errorf("epoch_retention must be >= epoch_history_limit")
	}
	if t.MaxLobbies <= 0 {
		return fmt.Errorf("max_lobbies must be > 0")
	}
	if t.BetLockSeconds < 0 || t.BetLockSeconds >= t.EpochSeconds {
		return fmt.Errorf("bet_lock_seconds must be in [0, epoch_seconds)")
	}
	if t.MinBet <= 0 || t.MaxBet < t.MinBet {
		return fmt.Errorf("bet bounds must satisfy 0 < min_bet <= max_bet")
	}
	if t.Economy.StartingBankroll < 0 || t.Economy.EpochReward < 0 || t.Economy.EpochPenalty < 0 {
		return fmt.Errorf("economy amounts must be >= 0")
	}
	return nil
}

// SlotMs is one turn plus the gap that follows it.
func (t Tuning) SlotMs() int64 { return t.TurnDurationMs + t.TurnGapMs }

func (t Tuning) PresenceTTL() time.Duration {
	return time.Duration(t.PresenceTTLSeconds) * time.Second
}
