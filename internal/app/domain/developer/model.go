package developer

import "time"

// Developer is a GitHub user who has signed in. Building ownership, purchases,
// and social counters all hang off this row.
type Developer struct {
	ID             string    `json:"id" db:"id"`
	GitHubID       int64     `json:"github_id" db:"github_id"`
	Login          string    `json:"login" db:"login"`
	Name           string    `json:"name" db:"name"`
	AvatarURL      string    `json:"avatar_url" db:"avatar_url"`
	ReferralCode   string    `json:"referral_code" db:"referral_code"`
	ReferredBy     string    `json:"referred_by,omitempty" db:"referred_by"`
	ReferralsCount int       `json:"referrals_count" db:"referrals_count"`
	WeeklyRaids    int       `json:"weekly_raids" db:"weekly_raids"`
	WeeklyWins     int       `json:"weekly_wins" db:"weekly_wins"`
	TotalWins      int       `json:"total_wins" db:"total_wins"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastLoginAt    time.Time `json:"last_login_at" db:"last_login_at"`
}

// Session is a server-side login record. The JWT handed to the browser hashes
// to TokenHash, so deleting the row revokes the token before it expires.
type Session struct {
	ID          string    `json:"id" db:"id"`
	DeveloperID string    `json:"developer_id" db:"developer_id"`
	TokenHash   string    `json:"-" db:"token_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
}
