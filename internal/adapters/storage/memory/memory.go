// Package memory provides mutex-guarded in-memory implementations of the
// storage ports. Used in tests and when running without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"musicstream-payments/internal/core/domain"
)

// Repository is an in-memory TransactionRepository. A single mutex guards
// the map; CompareAndSetStatus performs its read-check-write under that
// lock, which gives it the same atomicity the SQL implementation gets from
// a conditional UPDATE.
type Repository struct {
	mu  sync.RWMutex
	txs map[uuid.UUID]domain.Transaction
}

func NewRepository() *Repository {
	return &Repository{txs: make(map[uuid.UUID]domain.Transaction)}
}

func (r *Repository) Create(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.txs[tx.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, tx.ID)
	}

	tx.LineItems = append([]domain.LineItem(nil), tx.LineItems...)
	r.txs[tx.ID] = tx
	return nil
}

func (r *Repository) Get(_ context.Context, id uuid.UUID) (domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	tx.LineItems = append([]domain.LineItem(nil), tx.LineItems...)
	return tx, nil
}

func (r *Repository) CompareAndSetStatus(_ context.Context, id uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if tx.Status != expected {
		return false, nil
	}
	tx.Status = next
	r.txs[id] = tx
	return true, nil
}

func (r *Repository) SetGatewayReference(_ context.Context, id uuid.UUID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if tx.GatewayReference != "" {
		return nil
	}
	tx.GatewayReference = ref
	r.txs[id] = tx
	return nil
}

func (r *Repository) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Transaction
	for _, tx := range r.txs {
		if tx.UserID == userID {
			all = append(all, tx)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return []domain.Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *Repository) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for id, tx := range r.txs {
		if tx.Status == domain.StatusPending && tx.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

// Len reports the number of stored transactions. Test helper.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.txs)
}

// Catalog is an in-memory CatalogRepository.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]domain.CatalogItem)}
}

// Put inserts or replaces a catalog item.
func (c *Catalog) Put(item domain.CatalogItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

func (c *Catalog) GetItem(_ context.Context, id string) (domain.CatalogItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	return item, nil
}
