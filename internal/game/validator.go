package game

import (
	"math"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"
)

// Input bundles everything a single validation needs. Target is only consulted for eat
// messages and must hold the registry's current record for Message.TargetID.
type Input struct {
	Prior   *Player
	Target  *Player
	Message Message
	Now     time.Time
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// WithColorPicker overrides the random source used to pick a palette entry; it receives
// the palette length and must return an index in [0, n).
func WithColorPicker(pick func(n int) int) ValidatorOption {
	return func(v *Validator) {
		if pick != nil {
			v.pickColor = pick
		}
	}
}

// Validator turns raw client messages into clamped player records. It holds no state
// beyond its configuration and performs no I/O.
type Validator struct {
	rules     Rules
	pickColor func(n int) int
}

// NewValidator builds a validator over the supplied rules.
func NewValidator(rules Rules, opts ...ValidatorOption) *Validator {
	v := &Validator{rules: rules.normalise(), pickColor: rand.Intn}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Rules exposes the effective configuration after defaults were applied.
func (v *Validator) Rules() Rules {
	return v.rules
}

// Validate dispatches on the message type and returns the new state for the sender.
func (v *Validator) Validate(in Input) (Player, error) {
	msg := in.Message
	if !finite(msg.X, msg.Y, msg.DX, msg.DY, msg.Size) {
		return Player{}, reject(RejectInvalidNumber, msg.Type, msg.ID)
	}
	switch msg.Type {
	case MessageJoin:
		if in.Prior != nil {
			return Player{}, reject(RejectDuplicateJoin, msg.Type, msg.ID)
		}
		return v.join(msg, in.Now), nil
	case MessageMove:
		if in.Prior == nil {
			return Player{}, reject(RejectMissingPlayer, msg.Type, msg.ID)
		}
		return v.move(*in.Prior, msg, in.Now), nil
	case MessageEat:
		if in.Prior == nil {
			return Player{}, reject(RejectMissingPlayer, msg.Type, msg.ID)
		}
		return v.eat(*in.Prior, in.Target, msg, in.Now)
	case MessagePing:
		if in.Prior == nil {
			return Player{}, reject(RejectMissingPlayer, msg.Type, msg.ID)
		}
		next := *in.Prior
		next.LastUpdate = in.Now
		return next, nil
	default:
		return Player{}, reject(RejectUnknownType, msg.Type, msg.ID)
	}
}

func (v *Validator) join(msg Message, now time.Time) Player {
	//1.- Spawn at the centre unless the client asked for a spot, which is then clamped.
	x, y := v.rules.Center()
	if msg.X != nil {
		x = *msg.X
	}
	if msg.Y != nil {
		y = *msg.Y
	}
	//2.- Fill display defaults so every record is renderable.
	name := truncateRunes(strings.TrimSpace(msg.Name), MaxNameLength)
	if name == "" {
		name = truncateRunes(msg.ID, v.rules.NameLength)
	}
	color := msg.Color
	if !v.rules.InPalette(color) {
		color = v.rules.Palette[v.pickColor(len(v.rules.Palette))]
	}
	return Player{
		ID:         msg.ID,
		X:          v.rules.ClampX(x),
		Y:          v.rules.ClampY(y),
		Size:       v.rules.MinSize,
		Score:      0,
		Name:       name,
		Color:      color,
		LastUpdate: now,
	}
}

func (v *Validator) move(prior Player, msg Message, now time.Time) Player {
	next := prior
	switch {
	case msg.X != nil && msg.Y != nil:
		next.X, next.Y = v.limitAbsolute(prior, *msg.X, *msg.Y, now)
	case msg.DX != nil || msg.DY != nil:
		next.X = prior.X + clamp(deref(msg.DX), -v.rules.MaxDelta, v.rules.MaxDelta)
		next.Y = prior.Y + clamp(deref(msg.DY), -v.rules.MaxDelta, v.rules.MaxDelta)
	}
	next.X = v.rules.ClampX(next.X)
	next.Y = v.rules.ClampY(next.Y)

	// Size and score only ratchet upwards; lower values are ignored rather than rejected.
	if msg.Size != nil {
		if size := v.rules.ClampSize(*msg.Size); size >= prior.Size {
			next.Size = size
		}
	}
	if msg.Score != nil && *msg.Score >= prior.Score {
		next.Score = *msg.Score
	}
	next.LastUpdate = now
	return next
}

// limitAbsolute rescales a teleport-like jump down to the distance the avatar could have
// covered since its last accepted update.
func (v *Validator) limitAbsolute(prior Player, x, y float64, now time.Time) (float64, float64) {
	dx := x - prior.X
	dy := y - prior.Y
	distance := math.Hypot(dx, dy)
	elapsed := now.Sub(prior.LastUpdate).Seconds()
	if elapsed < minFrameSeconds {
		elapsed = minFrameSeconds
	}
	maxAllowed := v.rules.MaxSpeed * elapsed
	if distance <= v.rules.SpeedTolerance*maxAllowed {
		return x, y
	}
	scale := maxAllowed / distance
	return prior.X + dx*scale, prior.Y + dy*scale
}

func (v *Validator) eat(attacker Player, target *Player, msg Message, now time.Time) (Player, error) {
	if msg.TargetID == "" || target == nil {
		return Player{}, reject(RejectMissingTarget, msg.Type, msg.ID)
	}
	if target.ID == attacker.ID {
		return Player{}, reject(RejectSelfTarget, msg.Type, msg.ID)
	}
	//1.- The attacker must be meaningfully larger than its prey.
	if attacker.Size <= target.Size*v.rules.EatRatio {
		return Player{}, reject(RejectSizeAdvantage, msg.Type, msg.ID)
	}
	//2.- The circles must overlap past the midpoint of their radii sum.
	if attacker.DistanceTo(*target) >= (attacker.Size+target.Size)/2 {
		return Player{}, reject(RejectOutOfReach, msg.Type, msg.ID)
	}
	//3.- Absorb: score gains half the prey radius, area is conserved up to the cap.
	next := attacker
	next.Score += int64(math.Floor(target.Size / 2))
	next.Size = math.Min(v.rules.MaxSize, math.Sqrt(attacker.Size*attacker.Size+target.Size*target.Size))
	next.LastUpdate = now
	return next, nil
}

func finite(values ...*float64) bool {
	for _, value := range values {
		if value == nil {
			continue
		}
		if math.IsNaN(*value) || math.IsInf(*value, 0) {
			return false
		}
	}
	return true
}

func deref(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
