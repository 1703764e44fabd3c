package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	lobbyID := fs.String("lobby", "main", "lobby id")
	address := fs.String("address", "", "include this wallet's stake and claimable epochs")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/lobbies/" + url.PathEscape(*lobbyID) + "/snapshot"
	if *address != "" {
		u += "?address=" + url.QueryEscape(*address)
	}
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	os.Exit(doRequest(req, 5*time.Second))
}

func resetCmd(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	lobbyID := fs.String("lobby", "", "lobby id (default: the server's default lobby)")
	token := fs.String("token", "", "admin token (or set DUEL_ADMIN_TOKEN)")
	clearPresence := fs.Bool("clear_presence", false, "drop connected listeners too")
	_ = fs.Parse(args)

	body := []byte(fmt.Sprintf(`{"clear_presence":%t}`, *clearPresence))
	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, *lobbyID, "reset"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	setToken(req, *token)
	os.Exit(doRequest(req, 10*time.Second))
}

func startCmd(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	lobbyID := fs.String("lobby", "", "lobby id (default: the server's default lobby)")
	token := fs.String("token", "", "admin token (or set DUEL_ADMIN_TOKEN)")
	_ = fs.Parse(args)

	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, *lobbyID, "start"), nil)
	setToken(req, *token)
	os.Exit(doRequest(req, 10*time.Second))
}

func adminURL(base, lobbyID, action string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.TrimSpace(lobbyID) == "" {
		return base + "/admin/v1/" + action
	}
	return base + "/admin/v1/lobbies/" + url.PathEscape(lobbyID) + "/" + action
}

func setToken(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("DUEL_ADMIN_TOKEN"))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// doRequest prints the response body and returns the process exit code.
func doRequest(req *http.Request, timeout time.Duration) int {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		return 1
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return 1
	}
	return 0
}
