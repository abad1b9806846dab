// Package billboard defines advertising placements and the slot capacity
// formula.
package billboard

import (
	"math"
	"time"
)

// Billboard is a placed advertisement. An empty BuildingID means a sky
// billboard floating above the city. Each placement consumes exactly one
// completed billboard purchase.
type Billboard struct {
	ID         string    `json:"id" db:"id"`
	BuildingID string    `json:"building_id,omitempty" db:"building_id"`
	PurchaseID string    `json:"purchase_id" db:"purchase_id"`
	Slot       int       `json:"slot" db:"slot"`
	ImageURL   string    `json:"image_url" db:"image_url"`
	LinkURL    string    `json:"link_url" db:"link_url"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
}

// SlotCapacity converts a building's wall area into advertising slots:
// one slot per slotArea square units of wall, with every building offering
// at least one and none offering more than maxSlots. Evaluated per placement
// request; never cached.
func SlotCapacity(wallArea, slotArea float64, maxSlots int) int {
	if slotArea <= 0 {
		return 1
	}
	slots := int(math.Floor(wallArea / slotArea))
	if slots < 1 {
		slots = 1
	}
	if maxSlots > 0 && slots > maxSlots {
		slots = maxSlots
	}
	return slots
}

// Expired reports whether the placement is past its run at the given time.
func (b Billboard) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}
