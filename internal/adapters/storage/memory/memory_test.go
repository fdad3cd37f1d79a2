package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicstream-payments/internal/core/domain"
)

func newPendingTx(createdAt time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          uuid.New(),
		UserID:      "user-1",
		TotalAmount: decimal.RequireFromString("40"),
		Currency:    "INR",
		Status:      domain.StatusPending,
		CreatedAt:   createdAt,
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	tx := newPendingTx(time.Now())

	require.NoError(t, repo.Create(ctx, tx))
	err := repo.Create(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.Equal(t, 1, repo.Len())
}

func TestGet_NotFound(t *testing.T) {
	repo := NewRepository()
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Any number of callers may race from pending to different terminal states;
// exactly one compare-and-set must win.
func TestCompareAndSetStatus_ConcurrentRace(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	tx := newPendingTx(time.Now())
	require.NoError(t, repo.Create(ctx, tx))

	targets := []domain.TransactionStatus{
		domain.StatusCompleted,
		domain.StatusFailed,
		domain.StatusCompleted,
		domain.StatusFailed,
	}

	var wg sync.WaitGroup
	wins := make(chan domain.TransactionStatus, len(targets))

	for _, target := range targets {
		wg.Add(1)
		go func(next domain.TransactionStatus) {
			defer wg.Done()
			ok, err := repo.CompareAndSetStatus(ctx, tx.ID, domain.StatusPending, next)
			assert.NoError(t, err)
			if ok {
				wins <- next
			}
		}(target)
	}
	wg.Wait()
	close(wins)

	var winners []domain.TransactionStatus
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one CAS must succeed")

	stored, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.Status)
}

func TestCompareAndSetStatus_WrongExpected(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	tx := newPendingTx(time.Now())
	require.NoError(t, repo.Create(ctx, tx))

	ok, err := repo.CompareAndSetStatus(ctx, tx.ID, domain.StatusPending, domain.StatusCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	// Terminal state is a sink: a late expiry CAS must be a no-op.
	ok, err = repo.CompareAndSetStatus(ctx, tx.ID, domain.StatusPending, domain.StatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
}

func TestSetGatewayReference_FirstWriteWins(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	tx := newPendingTx(time.Now())
	require.NoError(t, repo.Create(ctx, tx))

	require.NoError(t, repo.SetGatewayReference(ctx, tx.ID, "GW-1"))
	require.NoError(t, repo.SetGatewayReference(ctx, tx.ID, "GW-2"))

	stored, err := repo.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "GW-1", stored.GatewayReference)
}

func TestListExpiredPending(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	now := time.Now()

	old := newPendingTx(now.Add(-30 * time.Minute))
	fresh := newPendingTx(now)
	settled := newPendingTx(now.Add(-30 * time.Minute))

	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, settled))
	_, err := repo.CompareAndSetStatus(ctx, settled.ID, domain.StatusPending, domain.StatusCompleted)
	require.NoError(t, err)

	ids, err := repo.ListExpiredPending(ctx, now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{old.ID}, ids)
}

func TestListByUser_Pagination(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		tx := newPendingTx(base.Add(time.Duration(i) * time.Minute))
		require.NoError(t, repo.Create(ctx, tx))
	}
	other := newPendingTx(base)
	other.UserID = "user-2"
	require.NoError(t, repo.Create(ctx, other))

	page, total, err := repo.ListByUser(ctx, "user-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	// Newest first.
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	tail, _, err := repo.ListByUser(ctx, "user-1", 2, 4)
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}
