// Package social holds the kudos and referral records.
package social

import "time"

// Kudos is one developer applauding one building. The (sender, building)
// pair is unique.
type Kudos struct {
	ID          string    `json:"id" db:"id"`
	DeveloperID string    `json:"developer_id" db:"developer_id"`
	BuildingID  string    `json:"building_id" db:"building_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Referral credits a referrer for a new developer. ReferredID is unique: a
// developer is referred at most once, ever.
type Referral struct {
	ID         string    `json:"id" db:"id"`
	ReferrerID string    `json:"referrer_id" db:"referrer_id"`
	ReferredID string    `json:"referred_id" db:"referred_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
