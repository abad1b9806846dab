package loadout

import "time"

// Slot is one equipped item in one customization zone. A developer has at
// most one slot per zone; equipping over a full zone replaces it.
type Slot struct {
	DeveloperID string    `json:"developer_id" db:"developer_id"`
	Zone        string    `json:"zone" db:"zone"`
	ItemID      string    `json:"item_id" db:"item_id"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
