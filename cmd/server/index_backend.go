package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"musicduel.ai/internal/persistence/indexdb"
	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	engine.Recorder
	Close() error
	UpsertConfig(tune tuning.Tuning, cat lobbies.Config) error
}

// ingestIndex adapts the remote ingest backend, which has no config table.
type ingestIndex struct{ *indexdb.IngestIndex }

func (ingestIndex) UpsertConfig(tuning.Tuning, lobbies.Config) error { return nil }

func openRuntimeIndex(dataDir string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("DUEL_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "duel.sqlite"))
	case "http":
		endpoint := strings.TrimSpace(os.Getenv("DUEL_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("DUEL_INDEX_BACKEND=http but DUEL_INDEX_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("DUEL_INDEX_INGEST_TOKEN")),
			BatchSize:     envInt("DUEL_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("DUEL_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return ingestIndex{idx}, nil
	default:
		return nil, fmt.Errorf("unsupported DUEL_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
