// Command storefrontctl выполняет операторские команды витрины: импорт каталога,
// выпуск купонов, переотправка DLQ и административные вызовы по gRPC.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const envPostgresDSN = "STOREFRONT_POSTGRES_DSN"

// repositories: хранилища, с которыми работают команды.
type repositories struct {
	products     domain.ProductRepository
	coupons      domain.CouponRepository
	priceHistory domain.PriceHistoryRepository
	priceAlerts  domain.PriceAlertRepository
	outbox       domain.OutboxRepository
	close        func() error
}

// openRepositories открывает postgres по DSN; пустой DSN даёт хранилище в памяти,
// которое годится только для dry-run.
var openRepositories = func(ctx context.Context, dsn string) (repositories, error) {
	if strings.TrimSpace(dsn) == "" {
		return repositories{
			products:     memory.NewProductRepository(),
			coupons:      memory.NewCouponRepository(),
			priceHistory: memory.NewPriceHistoryRepository(),
			priceAlerts:  memory.NewPriceAlertRepository(),
			outbox:       memory.NewOutboxRepository(),
			close:        func() error { return nil },
		}, nil
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return repositories{}, fmt.Errorf("open postgres store: %w", err)
	}
	return repositories{
		products:     postgres.NewProductRepository(store),
		coupons:      postgres.NewCouponRepository(store),
		priceHistory: postgres.NewPriceHistoryRepository(store),
		priceAlerts:  postgres.NewPriceAlertRepository(store),
		outbox:       postgres.NewOutboxRepository(store),
		close:        store.Close,
	}, nil
}

type rootOptions struct {
	dsn     string
	verbose bool
}

func (o *rootOptions) logger() *log.Entry {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(log.WarnLevel)
	if o.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger.WithField("component", "storefrontctl")
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operator commands for the storefront backend",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv(envPostgresDSN), "PostgreSQL DSN (default from "+envPostgresDSN+")")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newCatalogCmd(opts))
	root.AddCommand(newCouponCmd(opts))
	root.AddCommand(newDLQCmd(opts))
	root.AddCommand(newAdminCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
