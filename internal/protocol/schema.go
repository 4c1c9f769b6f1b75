package protocol

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaDocument groups the JSON schemas of every message crossing the websocket.
// The wire format is MessagePack; the schema describes the decoded map shape.
type SchemaDocument struct {
	Encoding string                        `json:"encoding"`
	Inbound  map[string]*jsonschema.Schema `json:"inbound"`
	Outbound map[string]*jsonschema.Schema `json:"outbound"`
}

// Schema reflects the protocol structs into a schema document.
func Schema() SchemaDocument {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	return SchemaDocument{
		Encoding: "msgpack",
		Inbound: map[string]*jsonschema.Schema{
			"client": reflector.Reflect(&ClientMessage{}),
		},
		Outbound: map[string]*jsonschema.Schema{
			TypeWelcome:     reflector.Reflect(&Welcome{}),
			TypeJoin:        reflector.Reflect(&Join{}),
			TypePlayerEaten: reflector.Reflect(&PlayerEaten{}),
			TypeState:       reflector.Reflect(&State{}),
		},
	}
}

// SchemaJSON renders the schema document as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
