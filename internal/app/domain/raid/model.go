// Package raid defines the PvP raid records and the graffiti tags successful
// raids leave behind.
package raid

import "time"

// Raid is one resolved attack. Scores are kept so the client can replay the
// fight; success is attack strictly greater than defense.
type Raid struct {
	ID           string    `json:"id" db:"id"`
	AttackerID   string    `json:"attacker_id" db:"attacker_id"`
	DefenderID   string    `json:"defender_id" db:"defender_id"`
	AttackScore  int       `json:"attack_score" db:"attack_score"`
	DefenseScore int       `json:"defense_score" db:"defense_score"`
	Success      bool      `json:"success" db:"success"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// GraffitiTag marks a building as recently raided. BuildingID is the primary
// key, so a building carries at most one active tag; a newer raid overwrites
// the tag in place.
type GraffitiTag struct {
	BuildingID    string    `json:"building_id" db:"building_id"`
	RaidID        string    `json:"raid_id" db:"raid_id"`
	AttackerLogin string    `json:"attacker_login" db:"attacker_login"`
	Emblem        string    `json:"emblem" db:"emblem"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
}

// Emblems the attacker can choose from.
var Emblems = []string{
	"pixel-skull",
	"cat-burglar",
	"rubber-duck",
	"flame-commit",
	"merge-monster",
}

// ValidEmblem reports whether emblem is one of the presets.
func ValidEmblem(emblem string) bool {
	for _, e := range Emblems {
		if e == emblem {
			return true
		}
	}
	return false
}

// Expired reports whether the tag is past its expiry at the given time.
func (t GraffitiTag) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// LeaderboardEntry is one row of the weekly raid ranking.
type LeaderboardEntry struct {
	Login string  `json:"login"`
	Wins  float64 `json:"wins"`
}
