// Package indexdb keeps a queryable, append-only history of materialized turns,
// finalized epochs and mirrored claims. The lobby record stays the source of truth;
// the index may drop rows under pressure.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTurn  atomic.Uint64
	dropEpoch atomic.Uint64
	dropClaim atomic.Uint64
	dropReset atomic.Uint64
}

type reqKind int

const (
	reqTurn reqKind = iota + 1
	reqEpoch
	reqClaim
	reqReset
)

type req struct {
	kind    reqKind
	lobbyID string
	matchID string
	atMs    int64

	turn    model.ClipHistoryItem
	epoch   model.EpochHistoryItem
	epochID int64
	address string
	amount  int64
	winner  model.Side
}

// Stats reports queue pressure. Drops happen only when the writer falls behind.
type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropTurnTotal  uint64
	DropEpochTotal uint64
	DropClaimTotal uint64
	DropResetTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL lets the admin CLI read while the server appends.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			lobby_id TEXT NOT NULL,
			match_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			turn_id TEXT NOT NULL,
			epoch_id INTEGER NOT NULL,
			agent TEXT NOT NULL,
			strategy TEXT NOT NULL,
			style TEXT NOT NULL,
			tempo INTEGER NOT NULL,
			votes_a INTEGER NOT NULL,
			votes_b INTEGER NOT NULL,
			winner TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (lobby_id, match_id, turn_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_lobby_epoch ON turns(lobby_id, epoch_id);`,
		`CREATE TABLE IF NOT EXISTS epochs (
			lobby_id TEXT NOT NULL,
			match_id TEXT NOT NULL,
			epoch_id INTEGER NOT NULL,
			votes_a INTEGER NOT NULL,
			votes_b INTEGER NOT NULL,
			stake_a INTEGER NOT NULL,
			stake_b INTEGER NOT NULL,
			winner TEXT NOT NULL,
			finalized_at_ms INTEGER NOT NULL,
			bankroll_a INTEGER NOT NULL,
			bankroll_b INTEGER NOT NULL,
			note TEXT NOT NULL,
			PRIMARY KEY (lobby_id, match_id, epoch_id)
		);`,
		`CREATE TABLE IF NOT EXISTS claims (
			lobby_id TEXT NOT NULL,
			epoch_id INTEGER NOT NULL,
			address TEXT NOT NULL,
			winner TEXT NOT NULL,
			amount INTEGER NOT NULL,
			match_id TEXT NOT NULL,
			at_ms INTEGER NOT NULL,
			PRIMARY KEY (lobby_id, epoch_id, address)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_claims_address ON claims(address);`,
		`CREATE TABLE IF NOT EXISTS resets (
			lobby_id TEXT NOT NULL,
			match_id TEXT NOT NULL,
			at_ms INTEGER NOT NULL,
			PRIMARY KEY (lobby_id, match_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTurnTotal:  s.dropTurn.Load(),
		DropEpochTotal: s.dropEpoch.Load(),
		DropClaimTotal: s.dropClaim.Load(),
		DropResetTotal: s.dropReset.Load(),
	}
}

// Record implements engine.Recorder. It never blocks the engine.
func (s *SQLiteIndex) Record(ev engine.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	r := req{lobbyID: ev.LobbyID, matchID: ev.MatchID, atMs: ev.AtMs}
	var drops *atomic.Uint64
	switch ev.Kind {
	case engine.EventTurn:
		if ev.Turn == nil {
			return
		}
		r.kind, r.turn, drops = reqTurn, *ev.Turn, &s.dropTurn
	case engine.EventEpoch:
		if ev.Epoch == nil {
			return
		}
		r.kind, r.epoch, drops = reqEpoch, *ev.Epoch, &s.dropEpoch
	case engine.EventClaim:
		r.kind, r.epochID, r.address, r.amount, r.winner, drops = reqClaim, ev.EpochID, ev.Address, ev.Amount, ev.Side, &s.dropClaim
	case engine.EventReset:
		r.kind, drops = reqReset, &s.dropReset
	default:
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// UpsertConfig stores the tuning and lobby catalog actually in effect, keyed by digest.
func (s *SQLiteIndex) UpsertConfig(tune tuning.Tuning, cat lobbies.Config) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name string
		json []byte
	}
	var rows []kv
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", json: b})
	}
	if b, err := json.Marshal(cat); err == nil {
		rows = append(rows, kv{name: "lobbies", json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		sum := sha256.Sum256(r.json)
		if _, err := stmt.Exec(r.name, hex.EncodeToString(sum[:]), string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(lobby_id,match_id,turn_index,turn_id,epoch_id,agent,strategy,style,tempo,votes_a,votes_b,winner,started_at_ms,ended_at_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertEpoch, _ := s.db.Prepare(`INSERT OR REPLACE INTO epochs(lobby_id,match_id,epoch_id,votes_a,votes_b,stake_a,stake_b,winner,finalized_at_ms,bankroll_a,bankroll_b,note) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertClaim, _ := s.db.Prepare(`INSERT OR REPLACE INTO claims(lobby_id,epoch_id,address,winner,amount,match_id,at_ms) VALUES(?,?,?,?,?,?,?)`)
	insertReset, _ := s.db.Prepare(`INSERT OR REPLACE INTO resets(lobby_id,match_id,at_ms) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTurn, insertEpoch, insertClaim, insertReset} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(stmt *sql.Stmt, args ...any) {
		if stmt == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTurn:
			t := r.turn
			raw, _ := json.Marshal(t)
			exec(insertTurn, r.lobbyID, r.matchID, t.Index, t.TurnID, t.EpochID, string(t.Agent), string(t.Strategy),
				t.Params.Style, t.Params.Tempo, t.VotesA, t.VotesB, string(t.Winner), t.StartedAtMs, t.EndedAtMs, string(raw))
		case reqEpoch:
			e := r.epoch
			exec(insertEpoch, r.lobbyID, r.matchID, e.EpochID, e.VotesA, e.VotesB, e.StakeA, e.StakeB,
				string(e.Winner), e.FinalizedAtMs, e.BankrollA, e.BankrollB, e.Note)
		case reqClaim:
			exec(insertClaim, r.lobbyID, r.epochID, r.address, string(r.winner), r.amount, r.matchID, r.atMs)
		case reqReset:
			exec(insertReset, r.lobbyID, r.matchID, r.atMs)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
