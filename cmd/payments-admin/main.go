// payments-admin is the operator CLI for the payment lifecycle engine.
// It talks straight to the stores the gateway uses, so every state change
// goes through the same compare-and-set path as the service itself.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"musicstream-payments/internal/adapters/messaging/mock"
	"musicstream-payments/internal/adapters/storage/postgres"
	"musicstream-payments/internal/app"
	"musicstream-payments/internal/config"
	"musicstream-payments/internal/core/domain"
	"musicstream-payments/internal/observability"
)

func main() {
	var configPath string

	var rootCmd = &cobra.Command{Use: "payments-admin"}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to the config file")

	var inspectCmd = &cobra.Command{
		Use:   "inspect [transaction-id]",
		Short: "Show a transaction with its line items",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(args[0])
			if err != nil {
				log.Fatalf("invalid transaction id: %v", err)
			}
			repo := openRepo(configPath)
			defer repo.Pool().Close()

			tx, err := repo.Get(context.Background(), id)
			if err != nil {
				log.Fatal(err)
			}

			fmt.Printf("Transaction:  %s\n", tx.ID)
			fmt.Printf("User:         %s\n", tx.UserID)
			fmt.Printf("Status:       %s\n", tx.Status)
			fmt.Printf("Total:        %s %s\n", tx.TotalAmount.StringFixed(2), tx.Currency)
			fmt.Printf("Gateway ref:  %s\n", tx.GatewayReference)
			fmt.Printf("Created at:   %s\n", tx.CreatedAt.Format(time.RFC3339))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "\nITEM\tTIER\tCHARGED")
			for _, li := range tx.LineItems {
				fmt.Fprintf(w, "%s\t%s\t%s\n", li.CatalogItemID, li.Tier, li.ChargedPrice.StringFixed(2))
			}
			w.Flush()
		},
	}

	var expiredCmd = &cobra.Command{
		Use:   "expired",
		Short: "List pending transactions past the payment window and optionally fail them",
		Run: func(cmd *cobra.Command, _ []string) {
			apply, _ := cmd.Flags().GetBool("apply")
			cfg := loadConfig(configPath)
			repo := openRepo(configPath)
			defer repo.Pool().Close()

			ctx := context.Background()
			cutoff := time.Now().UTC().Add(-cfg.Payment.ExpiryWindow())
			ids, err := repo.ListExpiredPending(ctx, cutoff, 500)
			if err != nil {
				log.Fatal(err)
			}
			if len(ids) == 0 {
				fmt.Println("no expired pending transactions")
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TRANSACTION ID\tACTION")
			for _, id := range ids {
				action := "would fail"
				if apply {
					swapped, err := repo.CompareAndSetStatus(ctx, id, domain.StatusPending, domain.StatusFailed)
					switch {
					case err != nil:
						action = fmt.Sprintf("error: %v", err)
					case swapped:
						action = "failed"
					default:
						// Settled concurrently, nothing to do.
						action = "skipped"
					}
				}
				fmt.Fprintf(w, "%s\t%s\n", id, action)
			}
			w.Flush()
		},
	}
	expiredCmd.Flags().Bool("apply", false, "Fail the expired transactions instead of just listing them")

	var refundCmd = &cobra.Command{
		Use:   "refund [transaction-id]",
		Short: "Mark a completed transaction as refunded",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := uuid.Parse(args[0])
			if err != nil {
				log.Fatalf("invalid transaction id: %v", err)
			}
			cfg := loadConfig(configPath)
			repo := openRepo(configPath)
			defer repo.Pool().Close()

			// Refunds go through the service so the CLI emits the same
			// metrics and log lines as every other status transition.
			logger := observability.SetupLogger(cfg.App.Env)
			svc := app.NewPaymentService(
				repo,
				postgres.NewCatalogRepository(repo.Pool()),
				mock.NewBroker(logger),
				logger,
				cfg.Payment.ExpiryWindow(),
			)

			if err := svc.Refund(context.Background(), id); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("transaction %s refunded\n", id)
		},
	}

	var flaggedCmd = &cobra.Command{
		Use:   "flagged",
		Short: "List recently flagged settlements from the audit log",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := loadConfig(configPath)
			conn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{cfg.ClickHouse.Addr}})
			if err != nil {
				log.Fatal(err)
			}
			defer conn.Close()

			rows, err := conn.Query(context.Background(),
				"SELECT transaction_id, user_id, amount, reason, processed_at FROM default.settlement_audit WHERE flagged = 1 ORDER BY processed_at DESC LIMIT 20")
			if err != nil {
				log.Fatal(err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TRANSACTION ID\tUSER\tAMOUNT\tREASON\tPROCESSED AT")
			for rows.Next() {
				var id, user, amount, reason string
				var processedAt time.Time
				if err := rows.Scan(&id, &user, &amount, &reason, &processedAt); err != nil {
					log.Fatal(err)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, user, amount, reason, processedAt.Format(time.RFC3339))
			}
			w.Flush()
		},
	}

	rootCmd.AddCommand(inspectCmd, expiredCmd, refundCmd, flaggedCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func openRepo(configPath string) *postgres.Repository {
	cfg := loadConfig(configPath)
	repo, err := postgres.NewRepository(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	return repo
}
