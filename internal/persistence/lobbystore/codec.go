package lobbystore

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"musicduel.ai/internal/sim/model"
)

//go:embed lobby_state.schema.json
var lobbyStateSchema string

var schema = jsonschema.MustCompileString("lobby_state.schema.json", lobbyStateSchema)

// Encode serializes st as JSON.
func Encode(st *model.LobbyState) ([]byte, error) {
	return json.Marshal(st)
}

// Decode checks raw against the record schema and the model invariants for lobbyID.
func Decode(raw []byte, lobbyID string) (*model.LobbyState, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var st model.LobbyState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	st.EnsureMaps()
	if err := st.Validate(lobbyID); err != nil {
		return nil, err
	}
	return &st, nil
}
