package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"musicstream-payments/internal/core/domain"
	"musicstream-payments/internal/core/ports"
	"musicstream-payments/internal/observability"
)

// OutcomeSuccess is the gateway's wire value for a successful payment.
// Anything else resolves the transaction as failed.
const OutcomeSuccess = "SUCCESS"

const (
	casAttempts = 3
	casBackoff  = 50 * time.Millisecond
)

// service implements the PaymentService port. It owns every status
// mutation: webhook, expiry and refund all funnel through the repository's
// compare-and-set, so the first terminal transition wins and every later
// one is a detectable no-op.
type service struct {
	repo    ports.TransactionRepository
	catalog ports.CatalogRepository
	events  ports.SettlementPublisher
	logger  *slog.Logger
	expiry  time.Duration
	now     func() time.Time
}

// NewPaymentService is the constructor of our service. Dependencies come
// in through interfaces; expiry is the payment window (15 minutes in
// production config).
func NewPaymentService(
	repo ports.TransactionRepository,
	catalog ports.CatalogRepository,
	events ports.SettlementPublisher,
	logger *slog.Logger,
	expiry time.Duration,
) ports.PaymentService {
	return &service{
		repo:    repo,
		catalog: catalog,
		events:  events,
		logger:  logger,
		expiry:  expiry,
		now:     time.Now,
	}
}

func (s *service) CreatePurchase(ctx context.Context, userID string, items []ports.PurchaseItem) (*domain.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", domain.ErrValidation)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", domain.ErrValidation)
	}

	// Price every item before touching the store. A missing or inactive
	// item rejects the whole request; nothing partial is persisted.
	lineItems := make([]domain.LineItem, 0, len(items))
	for _, req := range items {
		item, err := s.catalog.GetItem(ctx, req.CatalogItemID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemUnavailable, req.CatalogItemID)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: catalog lookup: %v", domain.ErrStorageUnavailable, err)
		}
		if !item.IsActive {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemUnavailable, req.CatalogItemID)
		}

		price, err := domain.PriceForTier(item.BasePrice, req.Tier)
		if err != nil {
			return nil, err
		}
		lineItems = append(lineItems, domain.LineItem{
			CatalogItemID: item.ID,
			Tier:          req.Tier,
			ChargedPrice:  price,
		})
	}

	total := domain.SumLineItems(lineItems)
	if !total.IsPositive() {
		return nil, domain.ErrZeroAmount
	}

	tx := domain.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		LineItems:   lineItems,
		TotalAmount: total,
		Currency:    "INR",
		Status:      domain.StatusPending,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.repo.Create(ctx, tx); err != nil {
		if errors.Is(err, domain.ErrDuplicateID) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	observability.TransactionsCreated.Inc()
	s.logger.Info("transaction created",
		"transaction_id", tx.ID,
		"user_id", userID,
		"amount", total.StringFixed(2),
	)
	return &tx, nil
}

func (s *service) GetStatus(ctx context.Context, id uuid.UUID, requestingUserID string) (*domain.Transaction, error) {
	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.UserID != requestingUserID {
		return nil, domain.ErrForbidden
	}

	// Lazy expiry: the deadline is server-authoritative and evaluated on
	// read, a pending transaction past it fails right here. Losing the CAS
	// means a webhook or the sweeper got there first; re-read to report
	// whatever won.
	if tx.Status == domain.StatusPending && tx.Expired(s.now(), s.expiry) {
		won, err := s.casWithRetry(ctx, id, domain.StatusPending, domain.StatusFailed)
		if err != nil {
			s.logger.Error("lazy expiry transition failed, leaving transaction pending",
				"transaction_id", id, "error", err)
			return &tx, nil
		}
		if won {
			observability.TransactionsExpired.Inc()
			tx.Status = domain.StatusFailed
		} else {
			tx, err = s.repo.Get(ctx, id)
			if err != nil {
				return nil, err
			}
		}
	}

	return &tx, nil
}

func (s *service) HandleGatewayCallback(ctx context.Context, id uuid.UUID, outcome, gatewayReference string) error {
	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		// Webhooks never originate transactions.
		return err
	}

	if tx.Status.IsTerminal() {
		s.duplicateDelivery(id, tx.Status)
		return nil
	}

	next := domain.StatusFailed
	if outcome == OutcomeSuccess {
		next = domain.StatusCompleted
	}

	won, err := s.casWithRetry(ctx, id, domain.StatusPending, next)
	if err != nil {
		s.logger.Error("reconciliation failed, transaction left pending for manual review",
			"transaction_id", id, "outcome", outcome, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrReconciliationFailed, err)
	}
	if !won {
		// Lost the race to a duplicate delivery or the expiry supervisor.
		s.duplicateDelivery(id, next)
		return nil
	}

	if err := s.repo.SetGatewayReference(ctx, id, gatewayReference); err != nil {
		s.logger.Error("failed to record gateway reference",
			"transaction_id", id, "error", err)
	}

	observability.TransactionsSettled.WithLabelValues(string(next)).Inc()
	s.logger.Info("transaction settled",
		"transaction_id", id,
		"status", next,
		"gateway_reference", gatewayReference,
	)

	if next == domain.StatusCompleted {
		tx.Status = next
		tx.GatewayReference = gatewayReference
		if err := s.events.PublishSettled(ctx, tx); err != nil {
			// The status transition is authoritative; the settlement
			// auditor reconciles missed events.
			s.logger.Error("failed to publish settlement event",
				"transaction_id", id, "error", err)
		}
	}
	return nil
}

func (s *service) History(ctx context.Context, userID string, page, limit int) ([]domain.Transaction, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	txs, total, err := s.repo.ListByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return txs, total, nil
}

func (s *service) Refund(ctx context.Context, id uuid.UUID) error {
	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status != domain.StatusCompleted {
		return fmt.Errorf("%w: status is %s", domain.ErrNotRefundable, tx.Status)
	}

	won, err := s.casWithRetry(ctx, id, domain.StatusCompleted, domain.StatusRefunded)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReconciliationFailed, err)
	}
	if !won {
		return fmt.Errorf("%w: transaction changed concurrently", domain.ErrNotRefundable)
	}

	observability.TransactionsSettled.WithLabelValues(string(domain.StatusRefunded)).Inc()
	s.logger.Info("transaction refunded", "transaction_id", id)
	return nil
}

func (s *service) duplicateDelivery(id uuid.UUID, status domain.TransactionStatus) {
	observability.DuplicateWebhooks.Inc()
	s.logger.Debug("duplicate gateway callback absorbed",
		"transaction_id", id, "status", status)
}

// casWithRetry retries transient store failures a small fixed number of
// times. A lost race is not an error and is returned as (false, nil)
// immediately; only infrastructure failures are retried.
func (s *service) casWithRetry(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		won, err := s.repo.CompareAndSetStatus(ctx, id, expected, next)
		if err == nil {
			return won, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * casBackoff):
		}
	}
	return false, lastErr
}
