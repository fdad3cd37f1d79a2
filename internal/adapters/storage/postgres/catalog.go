package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"musicstream-payments/internal/core/domain"
)

// CatalogRepository reads purchasable items. The payment path only ever
// needs id, title, base price and the active flag; everything else about
// the catalog belongs to the catalog service.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	const query = `
		SELECT id, title, base_price, is_active
		FROM catalog_items
		WHERE id = $1
	`
	var item domain.CatalogItem
	err := r.pool.QueryRow(ctx, query, id).Scan(&item.ID, &item.Title, &item.BasePrice, &item.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("failed to query catalog item: %w", err)
	}
	return item, nil
}
