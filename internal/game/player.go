package game

import (
	"math"
	"time"
)

// Player is the authoritative record of one avatar.
type Player struct {
	ID         string
	X          float64
	Y          float64
	Size       float64
	Score      int64
	Name       string
	Color      string
	LastUpdate time.Time
}

// DistanceTo returns the centre-to-centre distance between two avatars.
func (p Player) DistanceTo(other Player) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// IdleFor reports how long the player has gone without an accepted message.
func (p Player) IdleFor(now time.Time) time.Duration {
	if p.LastUpdate.IsZero() {
		return 0
	}
	return now.Sub(p.LastUpdate)
}

// MessageType enumerates the inbound actions a client may request.
type MessageType string

const (
	MessageJoin MessageType = "join"
	MessageMove MessageType = "move"
	MessageEat  MessageType = "eat"
	MessagePing MessageType = "ping"
)

// Message is a decoded client request. Optional numeric fields are pointers so that
// absence can be told apart from zero.
type Message struct {
	Type     MessageType
	ID       string
	X        *float64
	Y        *float64
	DX       *float64
	DY       *float64
	Size     *float64
	Score    *int64
	Name     string
	Color    string
	TargetID string
}

// Float returns a pointer to v; used when building messages by hand.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v; used when building messages by hand.
func Int(v int64) *int64 { return &v }
