package game

import "math"

const (
	// DefaultWorldWidth is the horizontal extent of the arena in world units.
	DefaultWorldWidth = 3000.0
	// DefaultWorldHeight is the vertical extent of the arena in world units.
	DefaultWorldHeight = 3000.0
	// DefaultBoundaryPadding keeps avatars away from the world edge.
	DefaultBoundaryPadding = 50.0
	// DefaultMaxSpeed bounds how far an avatar may travel per second.
	DefaultMaxSpeed = 300.0
	// DefaultMinSize is the radius every avatar spawns with.
	DefaultMinSize = 10.0
	// DefaultMaxSize caps avatar growth.
	DefaultMaxSize = 200.0
	// DefaultMaxDelta limits each axis of a relative move.
	DefaultMaxDelta = 50.0
	// DefaultEatRatio is the size advantage an attacker needs over its target.
	DefaultEatRatio = 1.1
	// DefaultSpeedTolerance is how far past the speed budget a move may go before it is rescaled.
	DefaultSpeedTolerance = 1.5
	// DefaultNameLength is how many characters of the id form a default display name.
	DefaultNameLength = 8
	// MaxNameLength truncates client supplied display names.
	MaxNameLength = 24

	// minFrameSeconds floors the elapsed time between moves at one 60 fps frame.
	minFrameSeconds = 1.0 / 60.0
)

// DefaultPalette lists the colours avatars may be painted with.
var DefaultPalette = []string{
	"#FF6B6B",
	"#4ECDC4",
	"#45B7D1",
	"#96CEB4",
	"#FFEAA7",
	"#DDA0DD",
	"#98D8C8",
	"#F7DC6F",
}

// Rules holds the world geometry and anti-cheat tunables consulted by the validator.
type Rules struct {
	WorldWidth      float64
	WorldHeight     float64
	BoundaryPadding float64
	MaxSpeed        float64
	MinSize         float64
	MaxSize         float64
	MaxDelta        float64
	EatRatio        float64
	SpeedTolerance  float64
	NameLength      int
	Palette         []string
}

// DefaultRules returns the reference tuning.
func DefaultRules() Rules {
	return Rules{
		WorldWidth:      DefaultWorldWidth,
		WorldHeight:     DefaultWorldHeight,
		BoundaryPadding: DefaultBoundaryPadding,
		MaxSpeed:        DefaultMaxSpeed,
		MinSize:         DefaultMinSize,
		MaxSize:         DefaultMaxSize,
		MaxDelta:        DefaultMaxDelta,
		EatRatio:        DefaultEatRatio,
		SpeedTolerance:  DefaultSpeedTolerance,
		NameLength:      DefaultNameLength,
		Palette:         append([]string(nil), DefaultPalette...),
	}
}

// normalise fills unset fields from the defaults so partially populated rules stay usable.
func (r Rules) normalise() Rules {
	def := DefaultRules()
	if r.WorldWidth <= 0 {
		r.WorldWidth = def.WorldWidth
	}
	if r.WorldHeight <= 0 {
		r.WorldHeight = def.WorldHeight
	}
	if r.BoundaryPadding < 0 {
		r.BoundaryPadding = 0
	}
	if r.MaxSpeed <= 0 {
		r.MaxSpeed = def.MaxSpeed
	}
	if r.MinSize <= 0 {
		r.MinSize = def.MinSize
	}
	if r.MaxSize < r.MinSize {
		r.MaxSize = math.Max(def.MaxSize, r.MinSize)
	}
	if r.MaxDelta <= 0 {
		r.MaxDelta = def.MaxDelta
	}
	if r.EatRatio <= 0 {
		r.EatRatio = def.EatRatio
	}
	if r.SpeedTolerance < 1 {
		r.SpeedTolerance = def.SpeedTolerance
	}
	if r.NameLength <= 0 {
		r.NameLength = def.NameLength
	}
	if len(r.Palette) == 0 {
		r.Palette = def.Palette
	}
	return r
}

// Center returns the middle of the world.
func (r Rules) Center() (float64, float64) {
	return r.WorldWidth / 2, r.WorldHeight / 2
}

// ClampX keeps a horizontal coordinate inside the padded world.
func (r Rules) ClampX(x float64) float64 {
	return clamp(x, r.BoundaryPadding, r.WorldWidth-r.BoundaryPadding)
}

// ClampY keeps a vertical coordinate inside the padded world.
func (r Rules) ClampY(y float64) float64 {
	return clamp(y, r.BoundaryPadding, r.WorldHeight-r.BoundaryPadding)
}

// ClampSize keeps a radius within the allowed growth range.
func (r Rules) ClampSize(size float64) float64 {
	return clamp(size, r.MinSize, r.MaxSize)
}

// InPalette reports whether the colour is one of the permitted avatar colours.
func (r Rules) InPalette(color string) bool {
	for _, candidate := range r.Palette {
		if candidate == color {
			return true
		}
	}
	return false
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
