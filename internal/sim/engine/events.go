package engine

import "musicduel.ai/internal/sim/model"

type EventKind string

const (
	EventTurn   EventKind = "TURN"
	EventEpoch  EventKind = "EPOCH"
	EventVote   EventKind = "VOTE"
	EventBet    EventKind = "BET"
	EventClaim  EventKind = "CLAIM"
	EventReset  EventKind = "RESET"
	EventLoop   EventKind = "LOOP"
	EventListen EventKind = "PRESENCE"
)

// Event is published after the state change it describes has been persisted.
type Event struct {
	Kind    EventKind `json:"kind"`
	LobbyID string    `json:"lobby_id"`
	MatchID string    `json:"match_id"`
	AtMs    int64     `json:"at_ms"`

	Turn  *model.ClipHistoryItem  `json:"turn,omitempty"`
	Epoch *model.EpochHistoryItem `json:"epoch,omitempty"`

	TurnID  string     `json:"turn_id,omitempty"`
	EpochID int64      `json:"epoch_id,omitempty"`
	Side    model.Side `json:"side,omitempty"`
	Amount  int64      `json:"amount,omitempty"`
	Address string     `json:"address,omitempty"`

	Running   *bool `json:"running,omitempty"`
	Listeners int   `json:"listeners,omitempty"`
}

type Recorder interface {
	Record(ev Event)
}

// Recorders fans events out to every non-nil recorder in order.
type Recorders []Recorder

func (rs Recorders) Record(ev Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(ev)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
