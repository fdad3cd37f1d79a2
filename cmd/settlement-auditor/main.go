// settlement-auditor consumes settlement events from Kafka and writes an
// immutable audit row per settled transaction to ClickHouse. Purchases with
// suspicious velocity or size are flagged for manual review; flagging is
// observational and never touches transaction state.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"musicstream-payments/internal/audit"
	"musicstream-payments/internal/config"
	"musicstream-payments/internal/observability"
)

const (
	consumerGroup = "settlement-audit-group"
	dlqSuffix     = ".dlq"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.App.Env)
	logger.Info("settlement auditor starting", "env", cfg.App.Env)

	kafkaBrokers := strings.Split(cfg.Kafka.BootstrapServers, ",")
	topic := cfg.Kafka.SettlementTopic
	dlqTopic := topic + dlqSuffix

	// Producer for the dead-letter queue.
	dlqProducer, err := kgo.NewClient(
		kgo.SeedBrokers(kafkaBrokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		logger.Error("failed to create DLQ producer", "error", err)
		os.Exit(1)
	}
	defer dlqProducer.Close()

	// ClickHouse holds the append-only settlement audit log.
	chConn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{cfg.ClickHouse.Addr}})
	if err != nil {
		logger.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := chConn.Close(); err != nil {
			logger.Error("failed to close ClickHouse connection", "error", err)
		}
	}()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis connection", "error", err)
		}
	}()

	checker := audit.NewVelocityChecker(rdb, cfg.Audit)

	consumerClient, err := kgo.NewClient(
		kgo.SeedBrokers(kafkaBrokers...),
		kgo.ConsumerGroup(consumerGroup),
		kgo.ConsumeTopics(topic),
		// Offsets are committed manually, only after the audit row landed.
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		logger.Error("failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	defer consumerClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("settlement auditor running", "topic", topic, "group", consumerGroup)

	run := true
	for run {
		select {
		case <-ctx.Done():
			run = false
		default:
			fetches := consumerClient.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				break
			}

			fetches.EachError(func(t string, p int32, err error) {
				logger.Error("error reading from kafka", "topic", t, "partition", p, "error", err)
			})
			fetches.EachRecord(func(record *kgo.Record) {
				var ev audit.SettlementEvent
				if err := json.Unmarshal(record.Value, &ev); err != nil {
					logger.Error("unparsable settlement event, sending to DLQ", "error", err)
					sendToDLQ(dlqProducer, dlqTopic, record, "unmarshal_error", err.Error())
					return
				}

				settledAt, err := time.Parse(time.RFC3339, ev.SettledAt)
				if err != nil {
					logger.Error("unparsable settled_at, sending to DLQ", "error", err)
					sendToDLQ(dlqProducer, dlqTopic, record, "bad_timestamp", err.Error())
					return
				}

				result, err := checker.Check(ctx, ev)
				if err != nil {
					// A broken velocity check must not lose the audit row;
					// record the settlement unflagged.
					logger.Error("velocity check failed", "transaction_id", ev.TransactionID, "error", err)
				}

				err = chConn.Exec(ctx, `
				INSERT INTO default.settlement_audit
				    (transaction_id, user_id, amount, currency, gateway_reference, flagged, reason, settled_at, processed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					ev.TransactionID,
					ev.UserID,
					ev.Amount,
					ev.Currency,
					ev.GatewayReference,
					result.Flagged,
					result.Reason,
					settledAt,
					time.Now(),
				)
				if err != nil {
					logger.Error("failed to insert into ClickHouse", "error", err, "transaction_id", ev.TransactionID)
					return
				}

				logger.Info("settlement audited",
					"transaction_id", ev.TransactionID,
					"amount", ev.Amount,
					"flagged", result.Flagged,
				)
			})

			if err := consumerClient.CommitUncommittedOffsets(ctx); err != nil {
				logger.Error("error committing offsets", "error", err)
			}
		}
	}

	logger.Info("settlement auditor stopping...")
}

// sendToDLQ forwards a malformed event to the dead-letter topic with
// failure metadata in the headers.
func sendToDLQ(p *kgo.Client, dlqTopic string, originalRecord *kgo.Record, errorType, errorString string) {
	dlqRecord := &kgo.Record{
		Topic: dlqTopic,
		Value: originalRecord.Value,
		Key:   originalRecord.Key,
		Headers: []kgo.RecordHeader{
			{Key: "error_type", Value: []byte(errorType)},
			{Key: "error_string", Value: []byte(errorString)},
			{Key: "original_topic", Value: []byte(originalRecord.Topic)},
		},
	}
	p.Produce(context.Background(), dlqRecord, func(r *kgo.Record, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: failed to write to DLQ: %v\n", err)
		}
	})
}
