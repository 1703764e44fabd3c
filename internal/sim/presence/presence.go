// Package presence tracks listener sessions against a TTL.
//
// The tracker operates on the presence map of a lobby record; it never errors.
// Malformed session ids are treated as absent.
package presence

import (
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

var sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidSession reports whether id looks like a session id this service could have minted.
func ValidSession(id string) bool { return sessionPattern.MatchString(id) }

type Tracker struct {
	TTL time.Duration
	// NewID mints fresh session ids; nil means uuid.NewString.
	NewID func() string
}

func (t Tracker) mint() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return uuid.NewString()
}

// Join refreshes session if it is well-formed, otherwise mints a new one.
func (t Tracker) Join(sessions map[string]int64, session string, nowMs int64) string {
	if !ValidSession(session) {
		session = t.mint()
	}
	sessions[session] = nowMs
	return session
}

// Leave removes session; it reports whether anything was removed.
func (t Tracker) Leave(sessions map[string]int64, session string) bool {
	if !ValidSession(session) {
		return false
	}
	if _, ok := sessions[session]; !ok {
		return false
	}
	delete(sessions, session)
	return true
}

// Prune drops sessions last seen more than TTL before now and returns how many were dropped.
func (t Tracker) Prune(sessions map[string]int64, nowMs int64) int {
	cutoff := nowMs - t.TTL.Milliseconds()
	n := 0
	for id, seen := range sessions {
		if seen < cutoff || !ValidSession(id) {
			delete(sessions, id)
			n++
		}
	}
	return n
}

// Active lists sessions in a stable order.
func Active(sessions map[string]int64) []string {
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
