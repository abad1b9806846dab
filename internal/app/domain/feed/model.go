package feed

import "time"

// Event kinds the feed records.
const (
	KindBuildingClaimed     = "building_claimed"
	KindPurchaseCompleted   = "purchase_completed"
	KindRaid                = "raid"
	KindAchievementUnlocked = "achievement_unlocked"
	KindKudos               = "kudos"
	KindReferral            = "referral"
	KindWeeklyReset         = "weekly_reset"
)

// Event is one public activity record. Payload carries kind-specific detail
// (logins, item IDs, scores) and is stored as JSON.
type Event struct {
	ID          string                 `json:"id" db:"id"`
	DeveloperID string                 `json:"developer_id,omitempty" db:"developer_id"`
	Kind        string                 `json:"kind" db:"kind"`
	Payload     map[string]interface{} `json:"payload" db:"-"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}
