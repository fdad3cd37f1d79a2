package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"musicstream-payments/internal/core/domain"
)

// Broker is the Kafka implementation of the SettlementPublisher port.
// Settlement events are keyed by transaction id so every event for one
// transaction lands on the same partition, in order.
type Broker struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewBroker creates a Kafka producer and verifies broker connectivity.
func NewBroker(bootstrapServers []string, topic string, logger *slog.Logger) (*Broker, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(bootstrapServers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordDeliveryTimeout(10 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	if err := client.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}

	return &Broker{
		client: client,
		topic:  topic,
		logger: logger,
	}, nil
}

type settlementItem struct {
	CatalogItemID string `json:"catalog_item_id"`
	DeliveryTier  string `json:"delivery_tier"`
	ChargedPrice  string `json:"charged_price"`
}

type settlementEvent struct {
	TransactionID    string           `json:"transaction_id"`
	UserID           string           `json:"user_id"`
	Amount           string           `json:"amount"`
	Currency         string           `json:"currency"`
	Status           string           `json:"status"`
	GatewayReference string           `json:"gateway_reference"`
	Items            []settlementItem `json:"items"`
	SettledAt        string           `json:"settled_at"`
}

// PublishSettled emits an event for a transaction that reached completed.
// Entitlement consumers use it to unlock downloads for the purchased items.
func (b *Broker) PublishSettled(ctx context.Context, tx domain.Transaction) error {
	event := settlementEvent{
		TransactionID:    tx.ID.String(),
		UserID:           tx.UserID,
		Amount:           tx.TotalAmount.StringFixed(2),
		Currency:         tx.Currency,
		Status:           string(tx.Status),
		GatewayReference: tx.GatewayReference,
		SettledAt:        time.Now().UTC().Format(time.RFC3339),
	}
	for _, item := range tx.LineItems {
		event.Items = append(event.Items, settlementItem{
			CatalogItemID: item.CatalogItemID,
			DeliveryTier:  string(item.Tier),
			ChargedPrice:  item.ChargedPrice.StringFixed(2),
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(tx.ID.String()),
		Value: payload,
	}

	b.wg.Add(1)
	// Produce sends a record asynchronously.
	b.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		defer b.wg.Done()
		if err != nil {
			b.logger.Error("failed to deliver settlement event", "topic", r.Topic, "error", err)
		} else {
			b.logger.Debug("settlement event delivered", "topic", r.Topic, "partition", r.Partition, "offset", r.Offset)
		}
	})

	return nil
}

// Close waits for in-flight deliveries and stops the producer.
func (b *Broker) Close() {
	b.logger.Info("waiting for in-flight settlement events...")
	b.wg.Wait()
	b.client.Close()
	b.logger.Info("kafka client stopped")
}
