package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Payload kinds with a schema.
const (
	KindJoin  = "join"
	KindLeave = "leave"
	KindVote  = "vote"
	KindBet   = "bet"
	KindClaim = "claim"
	KindReset = "reset"
	KindHello = "hello"
)

var schemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	out := map[string]*jsonschema.Schema{}
	for _, kind := range []string{KindJoin, KindLeave, KindVote, KindBet, KindClaim, KindReset, KindHello} {
		name := kind + ".schema.json"
		raw, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			panic(err)
		}
		out[kind] = jsonschema.MustCompileString(name, string(raw))
	}
	return out
}

// Decode validates raw against kind's schema and unmarshals it into v.
// Every failure wraps ErrMalformed. An empty body counts as an empty object.
func Decode(kind string, raw []byte, v any) error {
	s, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: unknown payload kind %q", ErrMalformed, kind)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
