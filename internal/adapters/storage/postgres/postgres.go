package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"musicstream-payments/internal/core/domain"
)

const uniqueViolationCode = "23505"

// Repository is the PostgreSQL implementation of the TransactionRepository
// port. Status transitions rely on conditional UPDATEs: the WHERE clause
// carries the expected status, so concurrent resolvers cannot both win.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository from a DSN and verifies connectivity.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool exposes the underlying pool for collaborators that need raw access
// (the catalog repository shares it).
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *Repository) Create(ctx context.Context, tx domain.Transaction) error {
	dbtx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	const insertTx = `
		INSERT INTO transactions
		    (id, user_id, total_amount, currency, status, gateway_reference, created_at, updated_at)
		VALUES
		    ($1, $2, $3, $4, $5, NULL, $6, $6)
	`
	_, err = dbtx.Exec(ctx, insertTx,
		tx.ID,
		tx.UserID,
		tx.TotalAmount,
		tx.Currency,
		tx.Status,
		tx.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, tx.ID)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	const insertItem = `
		INSERT INTO transaction_line_items
		    (transaction_id, position, catalog_item_id, delivery_tier, charged_price)
		VALUES
		    ($1, $2, $3, $4, $5)
	`
	for i, item := range tx.LineItems {
		if _, err := dbtx.Exec(ctx, insertItem, tx.ID, i, item.CatalogItemID, item.Tier, item.ChargedPrice); err != nil {
			return fmt.Errorf("failed to insert line item %d: %w", i, err)
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	const query = `
		SELECT id, user_id, total_amount, currency, status, COALESCE(gateway_reference, ''), created_at
		FROM transactions
		WHERE id = $1
	`
	tx, err := r.scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Transaction{}, err
	}

	items, err := r.lineItems(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.LineItems = items
	return tx, nil
}

func (r *Repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next domain.TransactionStatus) (bool, error) {
	const update = `
		UPDATE transactions
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	tag, err := r.pool.Exec(ctx, update, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "lost the race" from "no such transaction".
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (r *Repository) SetGatewayReference(ctx context.Context, id uuid.UUID, ref string) error {
	const update = `
		UPDATE transactions
		SET gateway_reference = $2, updated_at = now()
		WHERE id = $1 AND gateway_reference IS NULL
	`
	if _, err := r.pool.Exec(ctx, update, id, ref); err != nil {
		return fmt.Errorf("failed to set gateway reference: %w", err)
	}
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	const query = `
		SELECT id, user_id, total_amount, currency, status, COALESCE(gateway_reference, ''), created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read transaction rows: %w", err)
	}

	for i := range txs {
		items, err := r.lineItems(ctx, txs[i].ID)
		if err != nil {
			return nil, 0, err
		}
		txs[i].LineItems = items
	}
	return txs, total, nil
}

func (r *Repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	const query = `
		SELECT id
		FROM transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, domain.StatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired transactions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(&tx.ID, &tx.UserID, &tx.TotalAmount, &tx.Currency, &tx.Status, &tx.GatewayReference, &tx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return tx, nil
}

func (r *Repository) lineItems(ctx context.Context, id uuid.UUID) ([]domain.LineItem, error) {
	const query = `
		SELECT catalog_item_id, delivery_tier, charged_price
		FROM transaction_line_items
		WHERE transaction_id = $1
		ORDER BY position
	`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.CatalogItemID, &item.Tier, &item.ChargedPrice); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
