package engine

import "errors"

var (
	ErrUnknownLobby = errors.New("invalid lobby id")
	// ErrLobbyLimit is returned when opening one more lobby would exceed max_lobbies.
	ErrLobbyLimit   = errors.New("lobby limit reached")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence wraps a failed durable write; the mutation it carried was not applied.
	ErrPersistence = errors.New("persistence failure")
)
