package main

import (
	"context"
	"testing"

	"musicduel.ai/internal/persistence/lobbystore"
	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/planner"
	"musicduel.ai/internal/sim/tuning"
)

func TestReadRecord_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := lobbystore.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	f := engine.Factory{Lobbies: lobbies.Defaults(), Tuning: tuning.Defaults(), NewMatchID: func() string { return "match-x" }}
	st, err := f.New("main")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := lobbystore.New(backend, f.New, nil).Save(context.Background(), st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := readRecord(backend.Path("main"))
	if err != nil {
		t.Fatalf("readRecord: %v", err)
	}
	if got.MatchID != "match-x" || got.LobbyID != "main" {
		t.Fatalf("record mismatch: %s %s", got.LobbyID, got.MatchID)
	}
}

func TestPlanTurns_MatchesPlanner(t *testing.T) {
	cat := lobbies.Defaults()
	f := engine.Factory{Lobbies: cat, Tuning: tuning.Defaults(), NewMatchID: func() string { return "m" }}
	st, err := f.New("main")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := planTurns(cat, st, 4, 3)
	if err != nil {
		t.Fatalf("planTurns: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len=%d", len(out))
	}
	spec, _ := cat.Spec("main")
	want := planner.Default().Render(spec, "m", st.AgentB, 5)
	if out[1] != want {
		t.Fatalf("turn 5 mismatch:\n got %+v\nwant %+v", out[1], want)
	}
	if out[0].AgentID != model.SideA {
		t.Fatalf("turn 4 should be played by A, got %s", out[0].AgentID)
	}
	if _, err := planTurns(cat, st, -1, 2); err == nil {
		t.Fatalf("negative range should fail")
	}
}

func TestAdminURL(t *testing.T) {
	if got := adminURL("http://h:1/", "", "reset"); got != "http://h:1/admin/v1/reset" {
		t.Fatalf("got %s", got)
	}
	if got := adminURL("http://h:1", "main", "start"); got != "http://h:1/admin/v1/lobbies/main/start" {
		t.Fatalf("got %s", got)
	}
}
