package protocol

import (
	"math"
	"time"

	"blobarena/server/internal/game"
)

// Outbound message kinds.
const (
	TypeWelcome     = "welcome"
	TypeJoin        = "join"
	TypePlayerEaten = "playerEaten"
	TypeState       = "state"
)

// ClientMessage is the inbound frame as it appears on the wire.
type ClientMessage struct {
	Type     string   `msgpack:"type" json:"type" jsonschema:"enum=join,enum=move,enum=eat,enum=ping"`
	ID       string   `msgpack:"id,omitempty" json:"id,omitempty" jsonschema:"description=Player id; generated by the server when omitted"`
	X        *float64 `msgpack:"x,omitempty" json:"x,omitempty"`
	Y        *float64 `msgpack:"y,omitempty" json:"y,omitempty"`
	DX       *float64 `msgpack:"dx,omitempty" json:"dx,omitempty"`
	DY       *float64 `msgpack:"dy,omitempty" json:"dy,omitempty"`
	Size     *float64 `msgpack:"size,omitempty" json:"size,omitempty"`
	Score    *float64 `msgpack:"score,omitempty" json:"score,omitempty"`
	Name     string   `msgpack:"name,omitempty" json:"name,omitempty"`
	Color    string   `msgpack:"color,omitempty" json:"color,omitempty"`
	TargetID string   `msgpack:"targetId,omitempty" json:"targetId,omitempty"`
}

// PlayerRecord is the full-precision player representation used by welcome and join.
type PlayerRecord struct {
	ID         string  `msgpack:"id" json:"id"`
	X          float64 `msgpack:"x" json:"x"`
	Y          float64 `msgpack:"y" json:"y"`
	Size       float64 `msgpack:"size" json:"size"`
	Score      int64   `msgpack:"score" json:"score"`
	Name       string  `msgpack:"name" json:"name"`
	Color      string  `msgpack:"color" json:"color"`
	LastUpdate int64   `msgpack:"lastUpdate" json:"lastUpdate" jsonschema:"description=Unix milliseconds of the last accepted message"`
}

// StatePlayer is the compact per-tick representation; coordinates are rounded.
type StatePlayer struct {
	ID    string  `msgpack:"id" json:"id"`
	X     float64 `msgpack:"x" json:"x"`
	Y     float64 `msgpack:"y" json:"y"`
	Size  float64 `msgpack:"size" json:"size"`
	Score int64   `msgpack:"score" json:"score"`
	Name  string  `msgpack:"name" json:"name"`
	Color string  `msgpack:"color" json:"color"`
}

// Welcome is sent only to the connection that joined.
type Welcome struct {
	Type      string         `msgpack:"type" json:"type"`
	PlayerID  string         `msgpack:"playerId" json:"playerId"`
	Players   []PlayerRecord `msgpack:"players" json:"players"`
	Timestamp int64          `msgpack:"timestamp" json:"timestamp"`
}

// Join announces a new player to everyone.
type Join struct {
	Type   string       `msgpack:"type" json:"type"`
	Player PlayerRecord `msgpack:"player" json:"player"`
}

// PlayerEaten announces a successful absorption.
type PlayerEaten struct {
	Type       string  `msgpack:"type" json:"type"`
	EatenID    string  `msgpack:"eatenId" json:"eatenId"`
	EaterID    string  `msgpack:"eaterId" json:"eaterId"`
	EaterSize  float64 `msgpack:"eaterSize" json:"eaterSize"`
	EaterScore int64   `msgpack:"eaterScore" json:"eaterScore"`
}

// State carries the full player list on every batch tick.
type State struct {
	Type      string        `msgpack:"type" json:"type"`
	Players   []StatePlayer `msgpack:"players" json:"players"`
	Timestamp int64         `msgpack:"timestamp" json:"timestamp"`
}

// ToMessage converts the wire frame into the validator's representation.
func (m ClientMessage) ToMessage() game.Message {
	msg := game.Message{
		Type:     game.MessageType(m.Type),
		ID:       m.ID,
		X:        m.X,
		Y:        m.Y,
		DX:       m.DX,
		DY:       m.DY,
		Size:     m.Size,
		Name:     m.Name,
		Color:    m.Color,
		TargetID: m.TargetID,
	}
	if m.Score != nil && !math.IsNaN(*m.Score) && !math.IsInf(*m.Score, 0) {
		msg.Score = game.Int(int64(math.Floor(*m.Score)))
	}
	return msg
}

// NewPlayerRecord copies a player at full precision.
func NewPlayerRecord(p game.Player) PlayerRecord {
	return PlayerRecord{
		ID:         p.ID,
		X:          p.X,
		Y:          p.Y,
		Size:       p.Size,
		Score:      p.Score,
		Name:       p.Name,
		Color:      p.Color,
		LastUpdate: p.LastUpdate.UnixMilli(),
	}
}

// NewStatePlayer rounds coordinates and size for the compact tick payload.
func NewStatePlayer(p game.Player) StatePlayer {
	return StatePlayer{
		ID:    p.ID,
		X:     math.Round(p.X),
		Y:     math.Round(p.Y),
		Size:  math.Round(p.Size),
		Score: p.Score,
		Name:  p.Name,
		Color: p.Color,
	}
}

// NewWelcome builds the directed snapshot for a freshly joined player.
func NewWelcome(playerID string, players []game.Player, now time.Time) Welcome {
	records := make([]PlayerRecord, 0, len(players))
	for _, p := range players {
		records = append(records, NewPlayerRecord(p))
	}
	return Welcome{Type: TypeWelcome, PlayerID: playerID, Players: records, Timestamp: now.UnixMilli()}
}

// NewJoin builds the join broadcast.
func NewJoin(p game.Player) Join {
	return Join{Type: TypeJoin, Player: NewPlayerRecord(p)}
}

// NewPlayerEaten builds the eat broadcast from the eater's post-meal state.
func NewPlayerEaten(eatenID string, eater game.Player) PlayerEaten {
	return PlayerEaten{
		Type:       TypePlayerEaten,
		EatenID:    eatenID,
		EaterID:    eater.ID,
		EaterSize:  eater.Size,
		EaterScore: eater.Score,
	}
}

// NewState builds the periodic full-state broadcast.
func NewState(players []game.Player, now time.Time) State {
	list := make([]StatePlayer, 0, len(players))
	for _, p := range players {
		list = append(list, NewStatePlayer(p))
	}
	return State{Type: TypeState, Players: list, Timestamp: now.UnixMilli()}
}
