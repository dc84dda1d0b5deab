package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

func newDLQCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Dead letter queue tools",
	}

	var (
		brokers string
		cfg     = kafka.ReplayConfig{
			SourceTopic: kafka.TopicDeadLetterQueue,
			TargetTopic: kafka.TopicOrderEvents,
			Limit:       kafka.DefaultReplayLimit,
			IdleTimeout: kafka.DefaultReplayIdleTimeout,
		}
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish dead-lettered events to the order events topic",
		Long: `Read the DLQ partition by partition and re-publish the original events.
Without --execute the command only reports what would be replayed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := splitBrokers(brokers)
			if len(list) == 0 {
				return errors.New("--brokers is required")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			replayer, err := openReplayer(list, cfg.Execute, opts)
			if err != nil {
				return err
			}
			defer replayer.Close()

			stats, err := replayer.Run(cmd.Context(), cfg)
			mode := "dry-run"
			if cfg.Execute {
				mode = "execute"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: processed=%d replayed=%d skipped=%d\n", mode, stats.Processed, stats.Replayed, stats.Skipped)
			return err
		},
	}
	f := replay.Flags()
	f.StringVar(&brokers, "brokers", "", "comma-separated kafka brokers (default from STOREFRONT_KAFKA_BROKERS)")
	f.StringVar(&cfg.SourceTopic, "source-topic", cfg.SourceTopic, "topic to read dead letters from")
	f.StringVar(&cfg.TargetTopic, "target-topic", cfg.TargetTopic, "fallback topic when a message has no original topic")
	f.IntVar(&cfg.Limit, "limit", cfg.Limit, "maximum messages to process")
	f.BoolVar(&cfg.Execute, "execute", false, "publish messages instead of a dry run")
	f.BoolVar(&cfg.FromNewest, "from-newest", false, "start from the newest messages of each partition")
	f.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "stop a partition after this much silence")
	replay.PreRun = func(*cobra.Command, []string) {
		if brokers == "" {
			brokers = os.Getenv("STOREFRONT_KAFKA_BROKERS")
		}
	}

	cmd.AddCommand(replay)
	return cmd
}

// openReplayer подключается к Kafka; в тестах подменяется.
var openReplayer = func(brokers []string, execute bool, opts *rootOptions) (*kafka.Replayer, error) {
	return kafka.OpenReplayer(brokers, execute, opts.logger().WithField("component", "dlq-replay"))
}

func splitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
