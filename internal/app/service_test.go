package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"musicstream-payments/internal/adapters/storage/memory"
	"musicstream-payments/internal/core/domain"
	"musicstream-payments/internal/core/ports"
)

// Mock - implementation of the settlement publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSettled(ctx context.Context, tx domain.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

type fixture struct {
	repo      *memory.Repository
	catalog   *memory.Catalog
	publisher *MockPublisher
	svc       *service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memory.NewRepository()
	catalog := memory.NewCatalog()
	publisher := new(MockPublisher)

	svc := NewPaymentService(repo, catalog, publisher, testLogger(), 15*time.Minute).(*service)
	return &fixture{repo: repo, catalog: catalog, publisher: publisher, svc: svc}
}

func (f *fixture) addItem(id, basePrice string, active bool) {
	f.catalog.Put(domain.CatalogItem{
		ID:        id,
		Title:     "Track " + id,
		BasePrice: decimal.RequireFromString(basePrice),
		IsActive:  active,
	})
}

func TestCreatePurchase_PricesPerTier(t *testing.T) {
	f := newFixture(t)
	f.addItem("track-1", "20", true)
	f.addItem("track-2", "20", true)
	ctx := context.Background()

	tx, err := f.svc.CreatePurchase(ctx, "user-1", []ports.PurchaseItem{
		{CatalogItemID: "track-1", Tier: domain.TierLossless},
		{CatalogItemID: "track-2", Tier: domain.TierLossless},
	})

	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, "80.00", tx.TotalAmount.StringFixed(2))
	require.Len(t, tx.LineItems, 2)
	assert.Equal(t, "40.00", tx.LineItems[0].ChargedPrice.StringFixed(2))
	assert.Equal(t, "INR", tx.Currency)

	stored, err := f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(tx.TotalAmount))
}

func TestCreatePurchase_ZeroAmountRejected(t *testing.T) {
	f := newFixture(t)
	f.addItem("free-track", "0", true)

	_, err := f.svc.CreatePurchase(context.Background(), "user-1", []ports.PurchaseItem{
		{CatalogItemID: "free-track", Tier: domain.TierLow},
	})

	assert.ErrorIs(t, err, domain.ErrZeroAmount)
	assert.Equal(t, 0, f.repo.Len(), "no record may be persisted")
}

func TestCreatePurchase_InactiveItemRejectsWholeRequest(t *testing.T) {
	f := newFixture(t)
	f.addItem("track-1", "20", true)
	f.addItem("track-2", "20", false)

	_, err := f.svc.CreatePurchase(context.Background(), "user-1", []ports.PurchaseItem{
		{CatalogItemID: "track-1", Tier: domain.TierHigh},
		{CatalogItemID: "track-2", Tier: domain.TierHigh},
	})

	assert.ErrorIs(t, err, domain.ErrItemUnavailable)
	assert.ErrorContains(t, err, "track-2")
	assert.Equal(t, 0, f.repo.Len())
}

func TestCreatePurchase_MissingItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePurchase(context.Background(), "user-1", []ports.PurchaseItem{
		{CatalogItemID: "nope", Tier: domain.TierLow},
	})

	assert.ErrorIs(t, err, domain.ErrItemUnavailable)
}

func TestCreatePurchase_EmptyRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePurchase(context.Background(), "user-1", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreatePurchase_UnknownTier(t *testing.T) {
	f := newFixture(t)
	f.addItem("track-1", "20", true)

	_, err := f.svc.CreatePurchase(context.Background(), "user-1", []ports.PurchaseItem{
		{CatalogItemID: "track-1", Tier: domain.DeliveryTier("studio")},
	})

	assert.ErrorIs(t, err, domain.ErrInvalidTier)
	assert.Equal(t, 0, f.repo.Len())
}

func createPending(t *testing.T, f *fixture) *domain.Transaction {
	t.Helper()
	f.addItem("track-1", "20", true)
	tx, err := f.svc.CreatePurchase(context.Background(), "user-1", []ports.PurchaseItem{
		{CatalogItemID: "track-1", Tier: domain.TierLossless},
	})
	require.NoError(t, err)
	return tx
}

func TestGatewayCallback_SuccessThenDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := createPending(t, f)

	f.publisher.On("PublishSettled", ctx, mock.AnythingOfType("domain.Transaction")).Return(nil).Once()

	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-12345"))

	stored, err := f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "GW-12345", stored.GatewayReference)

	// Identical re-delivery must be a no-op, not an error, and must not
	// overwrite the gateway reference.
	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-99999"))

	stored, err = f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "GW-12345", stored.GatewayReference)

	f.publisher.AssertNumberOfCalls(t, "PublishSettled", 1)
}

func TestGatewayCallback_FailureOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := createPending(t, f)

	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, "FAILURE", "GW-1"))

	stored, err := f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	f.publisher.AssertNotCalled(t, "PublishSettled", mock.Anything, mock.Anything)
}

func TestGatewayCallback_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleGatewayCallback(context.Background(), uuid.New(), OutcomeSuccess, "GW-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetStatus_Forbidden(t *testing.T) {
	f := newFixture(t)
	tx := createPending(t, f)

	_, err := f.svc.GetStatus(context.Background(), tx.ID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestGetStatus_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := createPending(t, f)

	f.svc.now = func() time.Time { return tx.CreatedAt.Add(16 * time.Minute) }

	got, err := f.svc.GetStatus(ctx, tx.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status, "expired pending fails on the query itself")

	// Subsequent reads stay failed.
	got, err = f.svc.GetStatus(ctx, tx.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestGetStatus_CompletedImmuneToExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := createPending(t, f)

	f.publisher.On("PublishSettled", ctx, mock.AnythingOfType("domain.Transaction")).Return(nil)
	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-1"))

	f.svc.now = func() time.Time { return tx.CreatedAt.Add(24 * time.Hour) }

	got, err := f.svc.GetStatus(ctx, tx.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestGatewayCallbackAfterExpiry_FirstTerminalWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := createPending(t, f)

	// Expiry resolves the transaction first.
	won, err := f.repo.CompareAndSetStatus(ctx, tx.ID, domain.StatusPending, domain.StatusFailed)
	require.NoError(t, err)
	require.True(t, won)

	// The late webhook loses the race and is absorbed.
	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-LATE"))

	stored, err := f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Empty(t, stored.GatewayReference)
	f.publisher.AssertNotCalled(t, "PublishSettled", mock.Anything, mock.Anything)
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := createPending(t, f)

	// Pending transactions cannot be refunded.
	assert.ErrorIs(t, f.svc.Refund(ctx, tx.ID), domain.ErrNotRefundable)

	f.publisher.On("PublishSettled", ctx, mock.AnythingOfType("domain.Transaction")).Return(nil)
	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-1"))

	require.NoError(t, f.svc.Refund(ctx, tx.ID))

	stored, err := f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, stored.Status)

	// Refunded is terminal too.
	assert.ErrorIs(t, f.svc.Refund(ctx, tx.ID), domain.ErrNotRefundable)
}

func TestHistory_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addItem("track-1", "20", true)

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreatePurchase(ctx, "user-1", []ports.PurchaseItem{
			{CatalogItemID: "track-1", Tier: domain.TierLow},
		})
		require.NoError(t, err)
	}

	page, total, err := f.svc.History(ctx, "user-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	// Out-of-range values fall back to defaults rather than failing.
	page, total, err = f.svc.History(ctx, "user-1", 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 3)
}

// failingCASRepo simulates an unhealthy store: CompareAndSetStatus returns
// a transport error for the first `failures` calls and counts attempts.
type failingCASRepo struct {
	*memory.Repository
	mu       sync.Mutex
	failures int
	attempts int
}

func (r *failingCASRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	r.mu.Lock()
	r.attempts++
	attempt := r.attempts
	r.mu.Unlock()

	if attempt <= r.failures {
		return false, errors.New("connection reset by peer")
	}
	return r.Repository.CompareAndSetStatus(ctx, id, expected, next)
}

func (r *failingCASRepo) casAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func newFailingFixture(t *testing.T, failures int) (*fixture, *failingCASRepo) {
	t.Helper()

	repo := &failingCASRepo{Repository: memory.NewRepository(), failures: failures}
	catalog := memory.NewCatalog()
	publisher := new(MockPublisher)

	svc := NewPaymentService(repo, catalog, publisher, testLogger(), 15*time.Minute).(*service)
	return &fixture{repo: repo.Repository, catalog: catalog, publisher: publisher, svc: svc}, repo
}

func TestGatewayCallback_StoreErrorsExhaustRetries(t *testing.T) {
	f, failing := newFailingFixture(t, casAttempts+1)
	ctx := context.Background()
	tx := createPending(t, f)

	err := f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-1")
	assert.ErrorIs(t, err, domain.ErrReconciliationFailed)
	assert.Equal(t, casAttempts, failing.casAttempts(), "retry bound is fixed")

	// The record stays pending for a gateway redelivery; nothing is
	// published and no reference is recorded.
	stored, getErr := f.repo.Get(ctx, tx.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Empty(t, stored.GatewayReference)
	f.publisher.AssertNotCalled(t, "PublishSettled", mock.Anything, mock.Anything)
}

func TestGatewayCallback_TransientStoreErrorRecovered(t *testing.T) {
	f, failing := newFailingFixture(t, 1)
	ctx := context.Background()
	tx := createPending(t, f)

	f.publisher.On("PublishSettled", ctx, mock.AnythingOfType("domain.Transaction")).Return(nil).Once()

	require.NoError(t, f.svc.HandleGatewayCallback(ctx, tx.ID, OutcomeSuccess, "GW-1"))
	assert.Equal(t, 2, failing.casAttempts(), "first failure is retried")

	stored, err := f.repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "GW-1", stored.GatewayReference)
	f.publisher.AssertExpectations(t)
}

func TestGetStatus_LazyExpiryStoreErrorLeavesPending(t *testing.T) {
	f, _ := newFailingFixture(t, casAttempts+1)
	ctx := context.Background()
	tx := createPending(t, f)

	f.svc.now = func() time.Time { return tx.CreatedAt.Add(16 * time.Minute) }

	// A broken store must not turn a status read into an error; the
	// transaction is reported pending and expired on a later read.
	got, err := f.svc.GetStatus(ctx, tx.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}
