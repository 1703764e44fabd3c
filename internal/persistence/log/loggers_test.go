package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/model"
)

func readLines(t *testing.T, path string) []engine.Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []engine.Event
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var ev engine.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestEventJournal_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	j := NewEventJournal(dir, nil)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	j.w.now = func() time.Time { return clock }

	j.Record(engine.Event{Kind: engine.EventVote, LobbyID: "main", TurnID: "m:1", Side: model.SideA})
	j.Record(engine.Event{Kind: engine.EventBet, LobbyID: "main", EpochID: 7, Amount: 10})
	clock = clock.Add(2 * time.Minute)
	j.Record(engine.Event{Kind: engine.EventReset, LobbyID: "main"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	first := readLines(t, filepath.Join(dir, "events", "events-2026-03-01-10.jsonl.zst"))
	if len(first) != 2 || first[0].TurnID != "m:1" || first[1].Amount != 10 {
		t.Fatalf("first hour mismatch: %+v", first)
	}
	second := readLines(t, filepath.Join(dir, "events", "events-2026-03-01-11.jsonl.zst"))
	if len(second) != 1 || second[0].Kind != engine.EventReset {
		t.Fatalf("second hour mismatch: %+v", second)
	}
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "events")
		w.now = func() time.Time { return at }
		if err := w.Write(engine.Event{Kind: engine.EventClaim, EpochID: int64(i + 1)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	got := readLines(t, filepath.Join(dir, "events-2026-03-01-10.jsonl.zst"))
	if len(got) != 2 || got[1].EpochID != 2 {
		t.Fatalf("expected both frames readable, got %+v", got)
	}
}
