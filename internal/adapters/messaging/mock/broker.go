package mock

import (
	"context"
	"log/slog"

	"musicstream-payments/internal/core/domain"
)

// Broker is a stand-in SettlementPublisher for running without Kafka.
type Broker struct {
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{logger: logger}
}

func (b *Broker) PublishSettled(_ context.Context, tx domain.Transaction) error {
	b.logger.Info("[MOCK] settlement event",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"amount", tx.TotalAmount.StringFixed(2),
	)
	return nil
}

func (b *Broker) Close() {}
