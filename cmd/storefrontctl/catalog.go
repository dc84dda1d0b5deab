package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Product catalog maintenance",
	}

	var dryRun bool
	importCmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import products from a store CSV export",
		Long: `Import products from a CSV export with the columns
Nombre, Precio [El Guante], En inventario [El Guante], Categoria,
Descripción, Handle and REF. Invalid rows are reported and skipped.

Examples:
  storefrontctl catalog import productos.csv --dry-run
  storefrontctl catalog import productos.csv --dsn postgres://...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && strings.TrimSpace(opts.dsn) == "" {
				return errors.New("--dsn is required unless --dry-run is set")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer f.Close()

			repos, err := openRepositories(cmd.Context(), opts.dsn)
			if err != nil {
				return err
			}
			defer func() { _ = repos.close() }()

			svc := inventory.NewService(repos.products, opts.logger())
			if repos.priceHistory != nil && repos.priceAlerts != nil {
				// Изменённые цены попадают в историю, подписки уходят в outbox сервера.
				svc.SetPriceObserver(pricing.NewService(repos.products, repos.priceHistory, repos.priceAlerts, repos.outbox, opts.logger()))
			}
			report, err := svc.Import(cmd.Context(), f, dryRun)
			if err != nil {
				return err
			}
			printImportReport(cmd, report)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing products")

	catalog.AddCommand(importCmd)
	return catalog
}

func printImportReport(cmd *cobra.Command, report inventory.ImportReport) {
	out := cmd.OutOrStdout()
	for _, rej := range report.Rejected {
		msgs := make([]string, 0, len(rej.Errors))
		for _, err := range rej.Errors {
			msgs = append(msgs, err.Error())
		}
		fmt.Fprintf(out, "line %d (%s): %s\n", rej.Line, rej.Name, strings.Join(msgs, "; "))
	}
	if report.DryRun {
		fmt.Fprintf(out, "dry run: %d valid, %d rejected\n", len(report.Valid), len(report.Rejected))
		return
	}
	fmt.Fprintf(out, "imported %d products, %d rejected\n", report.Imported, len(report.Rejected))
}
