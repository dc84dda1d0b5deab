// Команда loadtest нагружает витрину: оформляет заказы через HTTP API
// и при необходимости подтверждает или отменяет их через admin gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

const envAdminToken = "STOREFRONT_ADMIN_TOKEN"

var errScenariosFailed = errors.New("some scenarios failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(func(ctx context.Context, cfg config) error {
		return execute(ctx, cfg, os.Stdout)
	})
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(run func(context.Context, config) error) *cobra.Command {
	cfg := defaultConfig()

	cmd := &cobra.Command{
		Use:           "loadtest",
		Short:         "Generate order load against the storefront",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.totalSet = cmd.Flags().Changed("total")
			if err := cfg.normalize(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.baseURL, "base-url", cfg.baseURL, "storefront HTTP base URL")
	flags.StringVar(&cfg.adminAddr, "admin-addr", cfg.adminAddr, "admin gRPC address for confirm/cancel modes")
	flags.StringVar(&cfg.adminToken, "admin-token", os.Getenv(envAdminToken), "bearer token for the admin gRPC API (default from "+envAdminToken+")")
	flags.IntVar(&cfg.total, "total", cfg.total, "scenarios to run; with --duration acts as an upper bound only when set")
	flags.DurationVar(&cfg.duration, "duration", cfg.duration, "run for a fixed time instead of a fixed count (e.g. 10m)")
	flags.IntVarP(&cfg.concurrency, "concurrency", "c", cfg.concurrency, "number of concurrent workers")
	flags.IntVar(&cfg.connections, "connections", cfg.connections, "number of admin gRPC client connections")
	flags.DurationVar(&cfg.timeout, "timeout", cfg.timeout, "per-request timeout")
	flags.Var(&cfg.mode, "mode", "load mode: place | place-confirm | place-cancel")
	flags.IntVar(&cfg.cancelRate, "cancel-rate", cfg.cancelRate, "percent of place-confirm scenarios cancelled instead (0..100)")
	flags.StringVar(&cfg.paymentMethod, "payment-method", cfg.paymentMethod, "payment method sent with each order")
	flags.StringVar(&cfg.productID, "product-id", cfg.productID, "catalog product id; empty requires allow_unlisted_items on the server")
	flags.StringVar(&cfg.itemName, "item-name", cfg.itemName, "order item name")
	flags.Float64Var(&cfg.unitPrice, "unit-price", cfg.unitPrice, "order item unit price in pesos")
	flags.StringVar(&cfg.customerTag, "customer-tag", cfg.customerTag, "customer id prefix")
	flags.StringVarP(&cfg.outputPath, "output", "o", cfg.outputPath, "write the JSON report to this file")

	return cmd
}

// adminDialOptions: параметры соединения с admin gRPC, токен уходит с каждым вызовом.
func adminDialOptions(cfg config) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(grpcsvc.TokenCredentials(cfg.adminToken)),
	}
}

// execute готовит клиентов, прогоняет нагрузку и печатает отчёт.
// Возвращает errScenariosFailed, если хотя бы один сценарий не прошёл.
func execute(ctx context.Context, cfg config, out io.Writer) error {
	tgt := &target{
		baseURL: cfg.baseURL,
		http:    tracing.NewHTTPClient(tracing.Tracer(), cfg.timeout),
	}
	if cfg.mode.needsAdmin() {
		for range cfg.connections {
			conn, err := grpc.NewClient(cfg.adminAddr, adminDialOptions(cfg)...)
			if err != nil {
				return fmt.Errorf("create admin grpc connection: %w", err)
			}
			defer conn.Close()
			tgt.admins = append(tgt.admins, grpcsvc.NewAdminClient(conn))
		}
	}

	result := runLoad(ctx, cfg, tgt)
	printReport(out, result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if result.FailedScenarios > 0 {
		return fmt.Errorf("%w: %d of %d", errScenariosFailed, result.FailedScenarios, result.TotalScenarios)
	}
	return nil
}
