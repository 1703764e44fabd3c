package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"musicduel.ai/internal/persistence/indexdb"
	"musicduel.ai/internal/sim/ledger"
)

func dbCmd(q string, args []string) {
	fs := flag.NewFlagSet(q, flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (default: <data>/index/duel.sqlite)")
	lobbyID := fs.String("lobby", "main", "lobby id")
	address := fs.String("address", "", "wallet address (claims)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "duel.sqlite")
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx := context.Background()
	var out any
	switch q {
	case "epochs":
		out, err = r.Epochs(ctx, *lobbyID, *limit)
	case "turns":
		out, err = r.Turns(ctx, *lobbyID, *limit)
	case "claims":
		addr, nerr := ledger.NormalizeAddress(*address)
		if nerr != nil {
			fmt.Fprintln(os.Stderr, "bad -address:", nerr)
			os.Exit(2)
		}
		out, err = r.Claims(ctx, addr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printJSON(out)
}
