package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"musicduel.ai/internal/sim/model"
)

// Reader answers admin queries against an index file, possibly while a server appends to it.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type EpochRow struct {
	MatchID string `json:"match_id"`
	model.EpochHistoryItem
}

// Epochs returns finalized epochs for lobbyID, newest first.
func (r *Reader) Epochs(ctx context.Context, lobbyID string, limit int) ([]EpochRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT match_id,epoch_id,votes_a,votes_b,stake_a,stake_b,winner,finalized_at_ms,bankroll_a,bankroll_b,note
		FROM epochs WHERE lobby_id=? ORDER BY finalized_at_ms DESC, epoch_id DESC LIMIT ?`, lobbyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EpochRow
	for rows.Next() {
		var e EpochRow
		var winner string
		if err := rows.Scan(&e.MatchID, &e.EpochID, &e.VotesA, &e.VotesB, &e.StakeA, &e.StakeB, &winner,
			&e.FinalizedAtMs, &e.BankrollA, &e.BankrollB, &e.Note); err != nil {
			return nil, err
		}
		e.Winner = model.Side(winner)
		out = append(out, e)
	}
	return out, rows.Err()
}

type TurnRow struct {
	MatchID     string     `json:"match_id"`
	TurnID      string     `json:"turn_id"`
	Index       int64      `json:"index"`
	EpochID     int64      `json:"epoch_id"`
	Agent       model.Side `json:"agent"`
	Style       string     `json:"style"`
	Tempo       int        `json:"tempo"`
	VotesA      int64      `json:"votes_a"`
	VotesB      int64      `json:"votes_b"`
	Winner      model.Side `json:"winner"`
	StartedAtMs int64      `json:"started_at_ms"`
}

// Turns returns materialized turns for lobbyID, newest first.
func (r *Reader) Turns(ctx context.Context, lobbyID string, limit int) ([]TurnRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT match_id,turn_id,turn_index,epoch_id,agent,style,tempo,votes_a,votes_b,winner,started_at_ms
		FROM turns WHERE lobby_id=? ORDER BY started_at_ms DESC, turn_index DESC LIMIT ?`, lobbyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TurnRow
	for rows.Next() {
		var t TurnRow
		var agent, winner string
		if err := rows.Scan(&t.MatchID, &t.TurnID, &t.Index, &t.EpochID, &agent, &t.Style, &t.Tempo,
			&t.VotesA, &t.VotesB, &winner, &t.StartedAtMs); err != nil {
			return nil, err
		}
		t.Agent, t.Winner = model.Side(agent), model.Side(winner)
		out = append(out, t)
	}
	return out, rows.Err()
}

type ClaimRow struct {
	LobbyID string     `json:"lobby_id"`
	EpochID int64      `json:"epoch_id"`
	Winner  model.Side `json:"winner"`
	Amount  int64      `json:"amount"`
	AtMs    int64      `json:"at_ms"`
}

// Claims lists mirrored claims for a normalized address.
func (r *Reader) Claims(ctx context.Context, address string) ([]ClaimRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT lobby_id,epoch_id,winner,amount,at_ms FROM claims WHERE address=? ORDER BY at_ms DESC`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClaimRow
	for rows.Next() {
		var c ClaimRow
		var winner string
		if err := rows.Scan(&c.LobbyID, &c.EpochID, &winner, &c.Amount, &c.AtMs); err != nil {
			return nil, err
		}
		c.Winner = model.Side(winner)
		out = append(out, c)
	}
	return out, rows.Err()
}
