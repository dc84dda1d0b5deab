package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/coupon"
)

type generateOptions struct {
	count       int
	kind        string
	value       int64
	maxDiscount int64
	minAmount   int64
	usageLimit  int
	onePerUser  bool
	rule        string
	validFor    time.Duration
	description string
}

func newCouponCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupon",
		Short: "Coupon management",
	}

	gen := &generateOptions{}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a batch of coupons with random codes",
		Long: `Generate coupons sharing one template. Amounts are in centavos.

Examples:
  storefrontctl coupon generate --count 20 --type percentage --value 15 --valid-for 720h
  storefrontctl coupon generate --type fixed --value 500000 --rule 'total >= 20000.0'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.dsn) == "" {
				return errors.New("--dsn is required")
			}
			repos, err := openRepositories(cmd.Context(), opts.dsn)
			if err != nil {
				return err
			}
			defer func() { _ = repos.close() }()
			return runGenerate(cmd, repos.coupons, gen, opts)
		},
	}
	f := generate.Flags()
	f.IntVarP(&gen.count, "count", "n", 1, "number of coupons")
	f.StringVar(&gen.kind, "type", string(domain.CouponTypePercentage), "percentage|fixed")
	f.Int64Var(&gen.value, "value", 0, "percent for percentage coupons, centavos for fixed")
	f.Int64Var(&gen.maxDiscount, "max-discount", 0, "discount cap in centavos (0 = none)")
	f.Int64Var(&gen.minAmount, "min-amount", 0, "minimum order total in centavos")
	f.IntVar(&gen.usageLimit, "usage-limit", 0, "total redemptions per coupon (0 = unlimited)")
	f.BoolVar(&gen.onePerUser, "one-per-user", true, "allow a single redemption per customer")
	f.StringVar(&gen.rule, "rule", "", "CEL eligibility expression over total, items, method, user_id")
	f.DurationVar(&gen.validFor, "valid-for", 0, "lifetime from now (0 = no expiry)")
	f.StringVar(&gen.description, "description", "", "coupon description")

	cmd.AddCommand(generate)
	return cmd
}

func runGenerate(cmd *cobra.Command, repo domain.CouponRepository, gen *generateOptions, opts *rootOptions) error {
	rules, err := coupon.NewRuleEngine()
	if err != nil {
		return err
	}
	svc := coupon.NewService(repo, rules, opts.logger())

	template := coupon.CreateRequest{
		Description:      gen.description,
		Type:             domain.CouponType(strings.ToLower(strings.TrimSpace(gen.kind))),
		Value:            gen.value,
		MaxDiscountMinor: gen.maxDiscount,
		MinAmountMinor:   gen.minAmount,
		UsageLimit:       gen.usageLimit,
		OnePerUser:       gen.onePerUser,
		Rule:             gen.rule,
		CreatedBy:        "storefrontctl",
	}
	if gen.validFor > 0 {
		template.ExpiresAt = time.Now().UTC().Add(gen.validFor)
	}

	created, err := svc.Generate(cmd.Context(), gen.count, template)
	out := cmd.OutOrStdout()
	for _, c := range created {
		fmt.Fprintln(out, c.Code)
	}
	if err != nil {
		return fmt.Errorf("generated %d of %d coupons: %w", len(created), gen.count, err)
	}
	return nil
}
