package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"musicduel.ai/internal/persistence/lobbystore"
	"musicduel.ai/internal/sim/engine"
	"musicduel.ai/internal/sim/lobbies"
	"musicduel.ai/internal/sim/model"
	"musicduel.ai/internal/sim/planner"
	"musicduel.ai/internal/sim/tuning"
)

const usage = `usage: admin <command> [flags]

commands:
  state    fetch a lobby snapshot from a running server
  reset    reset a lobby to a new match (admin token)
  start    start a lobby's loop (admin token)
  dump     decode a persisted lobby record
  epochs   list finalized epochs from the index
  turns    list materialized turns from the index
  claims   list mirrored claims for an address from the index
  plan     re-derive clip parameters for a turn range offline
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "state":
		stateCmd(args)
	case "reset":
		resetCmd(args)
	case "start":
		startCmd(args)
	case "dump":
		dumpCmd(args)
	case "epochs", "turns", "claims":
		dbCmd(os.Args[1], args)
	case "plan":
		planCmd(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func dumpCmd(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	lobbyID := fs.String("lobby", "main", "lobby id")
	file := fs.String("file", "", "record path (overrides -data/-lobby)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*file)
	if path == "" {
		path = (&lobbystore.FileBackend{Dir: filepath.Join(*dataDir, "lobbies")}).Path(*lobbyID)
	}
	st, err := readRecord(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dump:", err)
		os.Exit(1)
	}
	printJSON(st)
}

// readRecord decodes and validates one persisted lobby record.
func readRecord(path string) (*model.LobbyState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := lobbystore.ReadCompressed(f)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	lobbyID := strings.TrimSuffix(filepath.Base(path), ".json.zst")
	return lobbystore.Decode(raw, lobbyID)
}

func planCmd(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	dataDir := fs.String("data", "", "runtime data directory; when set, agents and match id come from the persisted record")
	lobbyID := fs.String("lobby", "main", "lobby id")
	matchID := fs.String("match", "", "match id (required unless -data)")
	from := fs.Int64("from", 0, "first turn index")
	count := fs.Int64("count", 8, "number of turns")
	_ = fs.Parse(args)

	cat, err := lobbies.Load(optionalFile(filepath.Join(*configDir, "lobbies.yaml")))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load lobbies:", err)
		os.Exit(1)
	}
	tune, err := tuning.Load(filepath.Join(*configDir, "tuning.yaml"))
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	var st *model.LobbyState
	if strings.TrimSpace(*dataDir) != "" {
		st, err = readRecord((&lobbystore.FileBackend{Dir: filepath.Join(*dataDir, "lobbies")}).Path(*lobbyID))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read record:", err)
			os.Exit(1)
		}
	} else {
		if strings.TrimSpace(*matchID) == "" {
			fmt.Fprintln(os.Stderr, "missing -match or -data")
			os.Exit(2)
		}
		f := engine.Factory{Lobbies: cat, Tuning: tune, NewMatchID: func() string { return *matchID }}
		st, err = f.New(*lobbyID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "plan:", err)
			os.Exit(2)
		}
	}
	out, err := planTurns(cat, st, *from, *count)
	if err != nil {
		fmt.Fprintln(os.Stderr, "plan:", err)
		os.Exit(2)
	}
	printJSON(out)
}

// planTurns renders turns [from, from+count) with the agents as they stand in st.
// Past turns were planned from earlier agent states, so only upcoming turns match exactly.
func planTurns(cat lobbies.Config, st *model.LobbyState, from, count int64) ([]planner.RenderRequest, error) {
	spec, ok := cat.Spec(st.LobbyID)
	if !ok {
		return nil, fmt.Errorf("unknown lobby %q", st.LobbyID)
	}
	if from < 0 || count <= 0 {
		return nil, fmt.Errorf("bad turn range from=%d count=%d", from, count)
	}
	p := planner.Default()
	out := make([]planner.RenderRequest, 0, count)
	for i := from; i < from+count; i++ {
		out = append(out, p.Render(spec, st.MatchID, *st.Agent(model.ActingSide(i)), i))
	}
	return out, nil
}

func optionalFile(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		os.Exit(1)
	}
}
