// Package shop defines the cosmetic item catalog and the purchase records
// that gate everything money can buy.
package shop

import "time"

// Customization zones an item can occupy. Billboard is the odd one out: it is
// not equipped, it is consumed by placing an advertisement.
const (
	ZoneCrown     = "crown"
	ZoneRoof      = "roof"
	ZoneAura      = "aura"
	ZoneBillboard = "billboard"
)

// Purchase lifecycle. Only the payment provider moves a purchase to
// completed; the server never finalizes on its own.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// Payment providers.
const (
	ProviderCard = "card"
	ProviderPIX  = "pix"
)

// Item is a catalog entry.
type Item struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Description  string `json:"description" db:"description"`
	Zone         string `json:"zone" db:"zone"`
	PriceCents   int64  `json:"price_cents" db:"price_cents"`
	Currency     string `json:"currency" db:"currency"`
	AttackBonus  int    `json:"attack_bonus" db:"attack_bonus"`
	DefenseBonus int    `json:"defense_bonus" db:"defense_bonus"`
	Stackable    bool   `json:"stackable" db:"stackable"`
	Active       bool   `json:"active" db:"active"`
}

// Purchase is one payment attempt for one item. Stackable is denormalized
// from the item at insert time so the partial unique index on completed
// non-stackable purchases can be expressed without a join.
type Purchase struct {
	ID          string     `json:"id" db:"id"`
	DeveloperID string     `json:"developer_id" db:"developer_id"`
	ItemID      string     `json:"item_id" db:"item_id"`
	Status      string     `json:"status" db:"status"`
	Provider    string     `json:"provider" db:"provider"`
	ProviderRef string     `json:"provider_ref,omitempty" db:"provider_ref"`
	AmountCents int64      `json:"amount_cents" db:"amount_cents"`
	Currency    string     `json:"currency" db:"currency"`
	CheckoutURL string     `json:"checkout_url,omitempty" db:"checkout_url"`
	QRCode      string     `json:"qr_code,omitempty" db:"qr_code"`
	QRCodeURL   string     `json:"qr_code_url,omitempty" db:"qr_code_url"`
	Stackable   bool       `json:"stackable" db:"stackable"`
	Consumed    bool       `json:"consumed" db:"consumed"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// CheckoutSession is what a card provider hands back for a pending purchase:
// the hosted page the buyer is sent to, and the session id later echoed by
// webhooks.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PIXCharge is what a PIX provider hands back: the copy-paste code, a QR
// image, and the transaction id polled for settlement.
type PIXCharge struct {
	TxID      string    `json:"txid"`
	QRCode    string    `json:"qr_code"`
	QRCodeURL string    `json:"qr_code_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidZone reports whether zone names a known customization zone.
func ValidZone(zone string) bool {
	switch zone {
	case ZoneCrown, ZoneRoof, ZoneAura, ZoneBillboard:
		return true
	}
	return false
}

// EquippableZone reports whether zone can appear in a loadout.
func EquippableZone(zone string) bool {
	switch zone {
	case ZoneCrown, ZoneRoof, ZoneAura:
		return true
	}
	return false
}

// ValidProvider reports whether provider names a supported payment provider.
func ValidProvider(provider string) bool {
	return provider == ProviderCard || provider == ProviderPIX
}
