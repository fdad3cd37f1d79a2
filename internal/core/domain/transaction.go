package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is our own type for statuses to avoid "magic strings".
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusRefunded  TransactionStatus = "refunded"
)

// IsTerminal reports whether no further status transition is permitted.
// Terminal states are sinks: once a transaction reaches one, every later
// webhook delivery or expiry sweep must leave it untouched.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

// DeliveryTier is the requested quality level of a purchased item.
// It determines the price multiplier applied to the item's base price.
type DeliveryTier string

const (
	TierLow      DeliveryTier = "low"
	TierMedium   DeliveryTier = "medium"
	TierHigh     DeliveryTier = "high"
	TierLossless DeliveryTier = "lossless"
)

// ParseDeliveryTier validates a raw tier string from the wire.
func ParseDeliveryTier(raw string) (DeliveryTier, error) {
	switch t := DeliveryTier(raw); t {
	case TierLow, TierMedium, TierHigh, TierLossless:
		return t, nil
	}
	return "", ErrInvalidTier
}

// LineItem is one purchased catalog item inside a transaction.
// ChargedPrice is fixed at creation and never recomputed, even if the
// catalog price changes later.
type LineItem struct {
	CatalogItemID string
	Tier          DeliveryTier
	ChargedPrice  decimal.Decimal
}

// Transaction is the central entity of our domain: one purchase attempt
// and its resolution record. It is never deleted; an expired-and-unpaid
// transaction remains as a permanent audit record.
type Transaction struct {
	ID               uuid.UUID
	UserID           string
	LineItems        []LineItem
	TotalAmount      decimal.Decimal
	Currency         string
	Status           TransactionStatus
	GatewayReference string
	CreatedAt        time.Time
}

// ExpiresAt derives the payment deadline from the creation timestamp.
func (t Transaction) ExpiresAt(ttl time.Duration) time.Time {
	return t.CreatedAt.Add(ttl)
}

// Expired reports whether the payment window has closed at the given instant.
func (t Transaction) Expired(now time.Time, ttl time.Duration) bool {
	return now.After(t.ExpiresAt(ttl))
}

// CatalogItem is the read-only view of a purchasable item that the payment
// path needs. The catalog itself (search, metadata, media files) lives in a
// separate service.
type CatalogItem struct {
	ID        string
	Title     string
	BasePrice decimal.Decimal
	IsActive  bool
}
