// Package audit implements the settlement auditor's checks: every settled
// transaction is recorded, and suspicious purchase patterns are flagged for
// manual review. Flagging never blocks or reverses a settlement.
package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"musicstream-payments/internal/config"
)

// SettlementEvent mirrors the payload the gateway publishes for completed
// transactions.
type SettlementEvent struct {
	TransactionID    string `json:"transaction_id"`
	UserID           string `json:"user_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	GatewayReference string `json:"gateway_reference"`
	Items            []struct {
		CatalogItemID string `json:"catalog_item_id"`
		DeliveryTier  string `json:"delivery_tier"`
		ChargedPrice  string `json:"charged_price"`
	} `json:"items"`
	SettledAt string `json:"settled_at"`
}

// Result is the auditor's verdict on one settlement.
type Result struct {
	Flagged bool
	Reason  string
}

// VelocityChecker implements stateful purchase-velocity checks on Redis.
type VelocityChecker struct {
	rdb *redis.Client
	cfg config.AuditConfig
}

func NewVelocityChecker(rdb *redis.Client, cfg config.AuditConfig) *VelocityChecker {
	return &VelocityChecker{rdb: rdb, cfg: cfg}
}

// Check applies the audit rules to a settlement event.
func (c *VelocityChecker) Check(ctx context.Context, ev SettlementEvent) (Result, error) {
	// Rule 1: a single settlement above the amount threshold.
	if c.cfg.AmountThreshold > 0 {
		amount, err := strconv.ParseFloat(ev.Amount, 64)
		if err != nil {
			return Result{}, fmt.Errorf("unparsable settlement amount %q: %w", ev.Amount, err)
		}
		if amount > c.cfg.AmountThreshold {
			return Result{Flagged: true, Reason: "amount exceeds threshold"}, nil
		}
	}

	// Rule 2: too many settled purchases by one user inside the window.
	key := fmt.Sprintf("settlements:%s", ev.UserID)

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis INCR failed: %w", err)
	}
	if count == 1 {
		window := time.Duration(c.cfg.WindowSeconds) * time.Second
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("redis EXPIRE failed: %w", err)
		}
	}

	if c.cfg.MaxPurchases > 0 && count > int64(c.cfg.MaxPurchases) {
		reason := fmt.Sprintf("high purchase velocity: %d settlements in %d seconds", count, c.cfg.WindowSeconds)
		return Result{Flagged: true, Reason: reason}, nil
	}

	return Result{}, nil
}
