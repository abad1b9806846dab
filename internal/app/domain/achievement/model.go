package achievement

import "time"

// Metrics an achievement can track.
const (
	MetricClaim     = "claim"
	MetricStars     = "stars"
	MetricWins      = "wins"
	MetricKudos     = "kudos"
	MetricReferrals = "referrals"
	MetricPurchases = "purchases"
)

// Achievement is a catalog definition: unlock when the developer's value for
// Metric reaches Threshold.
type Achievement struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Metric      string `json:"metric" db:"metric"`
	Threshold   int    `json:"threshold" db:"threshold"`
	Tier        int    `json:"tier" db:"tier"`
}

// Unlock records that a developer reached an achievement. The
// (developer, achievement) pair is unique, which is what makes re-checking
// idempotent.
type Unlock struct {
	DeveloperID   string    `json:"developer_id" db:"developer_id"`
	AchievementID string    `json:"achievement_id" db:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at" db:"unlocked_at"`
}

// ValidMetric reports whether metric names a known achievement metric.
func ValidMetric(metric string) bool {
	switch metric {
	case MetricClaim, MetricStars, MetricWins, MetricKudos, MetricReferrals, MetricPurchases:
		return true
	}
	return false
}
