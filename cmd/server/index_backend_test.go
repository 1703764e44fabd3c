package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenRuntimeIndex_Backends(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	dir := t.TempDir()

	idx, err := openRuntimeIndex(dir, true, logger)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("DUEL_INDEX_BACKEND", "off")
	if idx, err := openRuntimeIndex(dir, false, logger); err != nil || idx != nil {
		t.Fatalf("off: idx=%v err=%v", idx, err)
	}

	t.Setenv("DUEL_INDEX_BACKEND", "")
	idx, err = openRuntimeIndex(dir, false, logger)
	if err != nil || idx == nil {
		t.Fatalf("sqlite: idx=%v err=%v", idx, err)
	}
	_ = idx.Close()
	if _, err := os.Stat(filepath.Join(dir, "index", "duel.sqlite")); err != nil {
		t.Fatalf("sqlite file missing: %v", err)
	}

	t.Setenv("DUEL_INDEX_BACKEND", "http")
	if _, err := openRuntimeIndex(dir, false, logger); err == nil {
		t.Fatalf("http without url should fail")
	}
	t.Setenv("DUEL_INDEX_INGEST_URL", "http://127.0.0.1:1/ingest")
	idx, err = openRuntimeIndex(dir, false, logger)
	if err != nil || idx == nil {
		t.Fatalf("http: idx=%v err=%v", idx, err)
	}
	_ = idx.Close()

	t.Setenv("DUEL_INDEX_BACKEND", "d2")
	if _, err := openRuntimeIndex(dir, false, logger); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DUEL_TEST_BOOL", "true")
	t.Setenv("DUEL_TEST_INT", "-3")
	if !envBool("DUEL_TEST_BOOL", false) || envBool("DUEL_TEST_MISSING", false) {
		t.Fatalf("envBool mismatch")
	}
	if envInt("DUEL_TEST_INT", 7) != 7 || envInt("DUEL_TEST_MISSING", 9) != 9 {
		t.Fatalf("envInt should fall back on invalid values")
	}
}

func TestLoadConfigs_DefaultsWhenMissing(t *testing.T) {
	tune, cat, err := loadConfigs(t.TempDir(), "", "", log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("loadConfigs: %v", err)
	}
	if tune.TurnDurationMs != 10_000 || cat.DefaultLobbyID != "main" {
		t.Fatalf("unexpected defaults: %+v %s", tune, cat.DefaultLobbyID)
	}
}
