package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"musicduel.ai/internal/metrics"
	"musicduel.ai/internal/persistence/lobbystore"
	persistlog "musicduel.ai/internal/persistence/log"
	"musicduel.ai/internal/platform/ratelimiter"
	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/tuning"
	"musicduel.ai/internal/transport/httpapi"
	"musicduel.ai/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		lobbiesPath = flag.String("lobbies", "", "path to lobbies.yaml (default: <configs>/lobbies.yaml)")
		disableDB   = flag.Bool("disable_db", false, "disable the turn/epoch index")
		noJournal   = flag.Bool("disable_journal", false, "disable the JSONL event journal")
		pushEvery   = flag.Duration("push_interval", time.Second, "websocket snapshot push interval")
		rateRPS     = flag.Float64("rate_rps", 5, "write requests per second per client (0 disables)")
		rateBurst   = flag.Int("rate_burst", 20, "write request burst per client")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	engineLog := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds)
	storeLog := log.New(os.Stdout, "[store] ", log.LstdFlags|log.Lmicroseconds)

	tune, cat, err := loadConfigs(*configDir, *tuningPath, *lobbiesPath, logger)
	if err != nil {
		logger.Fatalf("load configs: %v", err)
	}

	backend, err := lobbystore.NewFileBackend(filepath.Join(*dataDir, "lobbies"))
	if err != nil {
		logger.Fatalf("open lobby store: %v", err)
	}
	factory := engine.Factory{Lobbies: cat, Tuning: tune}
	store := lobbystore.New(backend, factory.New, storeLog)

	collector := metrics.New()
	recorders := engine.Recorders{collector}

	idx, err := openRuntimeIndex(*dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig(tune, cat); err != nil {
			logger.Printf("index upsert config: %v", err)
		}
		recorders = append(recorders, idx)
	}
	if !*noJournal {
		journal := persistlog.NewEventJournal(*dataDir, logger)
		defer journal.Close()
		recorders = append(recorders, journal)
	}

	eng := engine.New(engine.Options{
		Store:    store,
		Factory:  factory,
		Recorder: recorders,
		Logger:   engineLog,
	})

	adminToken := strings.TrimSpace(os.Getenv("DUEL_ADMIN_TOKEN"))
	if adminToken == "" {
		logger.Printf("DUEL_ADMIN_TOKEN not set; admin endpoints accept loopback callers only")
	}

	mux := http.NewServeMux()
	httpapi.NewServer(eng, httpapi.Config{
		AdminToken:     adminToken,
		DefaultLobbyID: cat.DefaultLobbyID,
		Limiter:        ratelimiter.New(*rateRPS, *rateBurst, 10*time.Minute),
		Observer:       collector,
		Logger:         logger,
	}).Register(mux)
	mux.Handle("GET /metrics", collector.Handler())
	mux.HandleFunc("GET /v1/lobbies/{lobby}/ws", ws.NewServer(eng, logger, *pushEvery).Handler())

	if envBool("DUEL_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (DUEL_ENABLE_PPROF_HTTP=false)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s lobbies=%v default=%s", *addr, cat.IDs(), cat.DefaultLobbyID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// loadConfigs reads tuning and the lobby catalog. Missing files fall back to defaults;
// files that exist but fail validation are fatal.
func loadConfigs(configDir, tuningPath, lobbiesPath string, logger *log.Logger) (tuning.Tuning, lobbies.Config, error) {
	tp := strings.TrimSpace(tuningPath)
	if tp == "" {
		tp = filepath.Join(configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			return tuning.Tuning{}, lobbies.Config{}, err
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	lp := strings.TrimSpace(lobbiesPath)
	if lp == "" {
		lp = filepath.Join(configDir, "lobbies.yaml")
	}
	if _, statErr := os.Stat(lp); statErr != nil {
		logger.Printf("lobbies not found (%s); using defaults", lp)
		lp = ""
	}
	cat, err := lobbies.Load(lp)
	if err != nil {
		return tuning.Tuning{}, lobbies.Config{}, err
	}
	return tune, cat, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
