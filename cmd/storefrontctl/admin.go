package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

const (
	envGRPCAddr   = "STOREFRONT_GRPC_ADDR"
	envAdminToken = "STOREFRONT_ADMIN_TOKEN"
)

// dialAdmin открывает соединение с admin gRPC; в тестах подменяется на bufconn.
var dialAdmin = func(addr, token string) (grpc.ClientConnInterface, func() error, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(grpcsvc.TokenCredentials(token)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dial admin grpc %s: %w", addr, err)
	}
	return conn, conn.Close, nil
}

type adminOptions struct {
	addr           string
	timeout        time.Duration
	idempotencyKey string
	token          string
}

func newAdminCmd(_ *rootOptions) *cobra.Command {
	opts := &adminOptions{}
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Order administration over the admin gRPC API",
	}
	defaultAddr := os.Getenv(envGRPCAddr)
	if defaultAddr == "" {
		defaultAddr = "localhost:50051"
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "grpc-addr", defaultAddr, "admin gRPC address (default from "+envGRPCAddr+")")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "call timeout")
	cmd.PersistentFlags().StringVar(&opts.token, "admin-token", os.Getenv(envAdminToken), "bearer token for the admin API (default from "+envAdminToken+")")
	cmd.PersistentFlags().StringVar(&opts.idempotencyKey, "idempotency-key", "", "idempotency key for confirm/cancel (random when empty)")

	var confirmedBy string
	confirm := &cobra.Command{
		Use:   "confirm <order-id>",
		Short: "Confirm a manually settled payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, true, func(ctx context.Context, c *grpcsvc.AdminClient) (proto.Message, error) {
				return c.ConfirmOrder(ctx, args[0], confirmedBy)
			})
		},
	}
	confirm.Flags().StringVar(&confirmedBy, "by", "storefrontctl", "operator recorded as confirmer")

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an unsettled order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return errors.New("--reason is required")
			}
			return opts.call(cmd, true, func(ctx context.Context, c *grpcsvc.AdminClient) (proto.Message, error) {
				return c.CancelOrder(ctx, args[0], reason)
			})
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "", "cancellation reason")

	get := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show an order with its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.call(cmd, false, func(ctx context.Context, c *grpcsvc.AdminClient) (proto.Message, error) {
				return c.GetOrder(ctx, args[0])
			})
		},
	}

	var (
		statuses string
		customer string
		limit    int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.call(cmd, false, func(ctx context.Context, c *grpcsvc.AdminClient) (proto.Message, error) {
				return c.ListOrders(ctx, statuses, customer, limit)
			})
		},
	}
	list.Flags().StringVar(&statuses, "status", "all", "comma-separated statuses or all")
	list.Flags().StringVar(&customer, "customer", "", "customer id")
	list.Flags().IntVar(&limit, "limit", 0, "maximum orders (0 = server default)")

	cmd.AddCommand(confirm, cancel, get, list)
	return cmd
}

func (o *adminOptions) call(cmd *cobra.Command, mutating bool, fn func(context.Context, *grpcsvc.AdminClient) (proto.Message, error)) error {
	conn, closeConn, err := dialAdmin(o.addr, o.token)
	if err != nil {
		return err
	}
	defer func() { _ = closeConn() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	if mutating {
		key := o.idempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "idempotency-key", key)
	}

	resp, err := fn(ctx, grpcsvc.NewAdminClient(conn))
	if err != nil {
		return err
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
