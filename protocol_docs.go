package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"blobarena/server/internal/protocol"
)

// MessageDoc describes a single message type exchanged over the arena socket.
type MessageDoc struct {
	Type        string `json:"type"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

// defaultMessageDocs mirrors the message handling inside the arena hub.
var defaultMessageDocs = []MessageDoc{
	{
		Type:        "join",
		Direction:   "client",
		Description: "Enter the arena with an optional name and palette colour. Spawns at a random position with the minimum size.",
	},
	{
		Type:        "move",
		Direction:   "client",
		Description: "Report a new position, either absolute or as a dx/dy delta. Fast moves are rescaled and positions are clamped inside the world padding.",
	},
	{
		Type:        "eat",
		Direction:   "client",
		Description: "Consume targetId when sufficiently larger and overlapping. The eater grows by area and scores the prey size.",
	},
	{
		Type:        "ping",
		Direction:   "client",
		Description: "Refresh the activity timestamp without moving.",
	},
	{
		Type:        protocol.TypeWelcome,
		Direction:   "server",
		Description: "Sent to a joining connection with its player id and the current roster.",
	},
	{
		Type:        protocol.TypeJoin,
		Direction:   "server",
		Description: "Broadcast when a player joins.",
	},
	{
		Type:        protocol.TypePlayerEaten,
		Direction:   "server",
		Description: "Broadcast when a player is consumed, carrying the eater's new size and score.",
	},
	{
		Type:        protocol.TypeState,
		Direction:   "server",
		Description: "Batched roster snapshot broadcast after moves, disconnects and evictions.",
	},
}

type protocolDocument struct {
	Messages []MessageDoc    `json:"messages"`
	Schema   json.RawMessage `json:"schema"`
}

// registerProtocolDocEndpoints serves the message catalogue and reflected schemas so
// client authors can validate their encoders.
func registerProtocolDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/api/protocol", func(w http.ResponseWriter, r *http.Request) {
		docs := append([]MessageDoc(nil), defaultMessageDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Direction == docs[j].Direction {
				return strings.Compare(docs[i].Type, docs[j].Type) < 0
			}
			return strings.Compare(docs[i].Direction, docs[j].Direction) < 0
		})

		schema, err := protocol.SchemaJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(protocolDocument{Messages: docs, Schema: schema}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
