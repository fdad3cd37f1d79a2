package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"musicstream-payments/internal/core/domain"
)

// TransactionRepository is the outgoing port for the transaction store.
// It is the sole shared mutable resource of the payment core; everything
// the reconciliation engine does reduces to CompareAndSetStatus.
type TransactionRepository interface {
	// Create persists a new pending transaction. Fails with
	// domain.ErrDuplicateID if the id already exists; it must never
	// overwrite on collision.
	Create(ctx context.Context, tx domain.Transaction) error

	// Get returns the current snapshot of a transaction, or
	// domain.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error)

	// CompareAndSetStatus atomically moves status from expected to next.
	// Returns (false, nil) when the stored status no longer equals
	// expected: someone else already resolved the transaction.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus) (bool, error)

	// SetGatewayReference records the gateway's reference on the first
	// accepted webhook. A reference that is already set is left untouched.
	SetGatewayReference(ctx context.Context, id uuid.UUID, ref string) error

	// ListByUser returns a page of the user's transactions, newest first,
	// together with the total count.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error)

	// ListExpiredPending returns ids of transactions still pending whose
	// creation time is before the cutoff. Used by the expiry sweeper.
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// CatalogRepository is the read-only lookup the pricing path uses to
// resolve base prices. The payment core never mutates catalog state.
type CatalogRepository interface {
	GetItem(ctx context.Context, id string) (domain.CatalogItem, error)
}

// SettlementPublisher is the outgoing port for settlement events.
// Downstream consumers grant download entitlements from these.
type SettlementPublisher interface {
	PublishSettled(ctx context.Context, tx domain.Transaction) error
}

// RateLimiterRepository is an outgoing port for request rate limiting.
type RateLimiterRepository interface {
	IsAllowed(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PurchaseItem is one requested item in a purchase, before pricing.
type PurchaseItem struct {
	CatalogItemID string
	Tier          domain.DeliveryTier
}

// PaymentService is the incoming port: how the outside world drives the
// payment transaction lifecycle.
type PaymentService interface {
	// CreatePurchase prices the requested items, persists a pending
	// transaction and returns it. The whole request is rejected if any
	// item is missing or inactive; no partial transaction is created.
	CreatePurchase(ctx context.Context, userID string, items []PurchaseItem) (*domain.Transaction, error)

	// GetStatus returns the transaction for its owner, converting a
	// pending transaction past its payment deadline to failed first.
	GetStatus(ctx context.Context, id uuid.UUID, requestingUserID string) (*domain.Transaction, error)

	// HandleGatewayCallback applies a gateway webhook. Duplicate
	// deliveries and lost races are absorbed as no-ops.
	HandleGatewayCallback(ctx context.Context, id uuid.UUID, outcome, gatewayReference string) error

	// History returns a page of the user's purchase attempts.
	History(ctx context.Context, userID string, page, limit int) ([]domain.Transaction, int, error)

	// Refund moves a completed transaction to refunded. Administrative
	// path only; it is not reachable from the public API.
	Refund(ctx context.Context, id uuid.UUID) error
}
