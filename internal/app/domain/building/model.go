// Package building defines the per-developer building and the procedural
// geometry derived from GitHub activity.
package building

import (
	"math"
	"time"
)

// Building is one tower in the city. Rows exist before their owners do:
// seeding creates unowned buildings, and a developer claims theirs after
// signing in.
type Building struct {
	ID            string     `json:"id" db:"id"`
	Login         string     `json:"login" db:"login"`
	OwnerID       string     `json:"owner_id,omitempty" db:"owner_id"`
	Stars         int        `json:"stars" db:"stars"`
	Followers     int        `json:"followers" db:"followers"`
	PublicRepos   int        `json:"public_repos" db:"public_repos"`
	Commits       int        `json:"commits" db:"commits"`
	Width         float64    `json:"width" db:"width"`
	Depth         float64    `json:"depth" db:"depth"`
	Height        float64    `json:"height" db:"height"`
	PlotX         int        `json:"plot_x" db:"plot_x"`
	PlotY         int        `json:"plot_y" db:"plot_y"`
	KudosCount    int        `json:"kudos_count" db:"kudos_count"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	StatsSyncedAt time.Time  `json:"stats_synced_at" db:"stats_synced_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Stats is the GitHub activity a building's geometry derives from.
type Stats struct {
	Stars       int `json:"stars"`
	Followers   int `json:"followers"`
	PublicRepos int `json:"public_repos"`
	Commits     int `json:"commits"`
}

// Dimension clamps. Buildings stay recognizable at both extremes: a brand-new
// account still gets a visible hut, a prolific one cannot blot out the sky.
const (
	MinWidth  = 6.0
	MaxWidth  = 30.0
	MinDepth  = 6.0
	MaxDepth  = 30.0
	MinHeight = 4.0
	MaxHeight = 80.0
)

// Dimensions computes the procedural width, depth, and height for a set of
// stats. The mapping is deterministic so re-syncing stats reproduces the same
// building.
func Dimensions(stats Stats) (width, depth, height float64) {
	width = clamp(MinWidth+2*log2(1+float64(stats.PublicRepos)), MinWidth, MaxWidth)
	depth = clamp(MinDepth+2*log2(1+float64(stats.Followers)), MinDepth, MaxDepth)
	height = clamp(MinHeight+3*log2(1+float64(stats.Commits+stats.Stars)), MinHeight, MaxHeight)
	return width, depth, height
}

// Claimed reports whether the building has an owner.
func (b Building) Claimed() bool {
	return b.OwnerID != ""
}

// WallArea is the total exterior wall surface, the input to billboard slot
// capacity.
func (b Building) WallArea() float64 {
	return 2 * (b.Width + b.Depth) * b.Height
}

// Plot returns the grid coordinates for the n-th building (zero-based),
// walking a square spiral out from the origin so the city grows ring by ring.
func Plot(ordinal int) (x, y int) {
	if ordinal <= 0 {
		return 0, 0
	}
	// Ring r covers ordinals ((2r-1)^2 .. (2r+1)^2 - 1].
	r := int(math.Ceil((math.Sqrt(float64(ordinal+1)) - 1) / 2))
	side := 2 * r
	offset := ordinal - (2*r-1)*(2*r-1)
	leg := offset / side
	step := offset % side

	switch leg {
	case 0: // east edge, heading north
		return r, -r + 1 + step
	case 1: // north edge, heading west
		return r - 1 - step, r
	case 2: // west edge, heading south
		return -r, r - 1 - step
	default: // south edge, heading east
		return -r + 1 + step, -r
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func log2(v float64) float64 {
	return math.Log2(v)
}
