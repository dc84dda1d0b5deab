package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envLogFormat = "STOREFRONT_LOG_FORMAT"
	envLogLevel  = "STOREFRONT_LOG_LEVEL"
)

// setupLogger настраивает формат и уровень логирования; нераспознанные значения
// возвращаются предупреждениями, а логгер остаётся на значениях по умолчанию.
func setupLogger(logger *log.Logger, lookup func(string) (string, bool)) []string {
	var warnings []string

	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(log.InfoLevel)

	if format, ok := lookup(envLogFormat); ok {
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "", "text":
		case "json":
			logger.SetFormatter(&log.JSONFormatter{})
		default:
			warnings = append(warnings, fmt.Sprintf("%s=%q is not supported, using text", envLogFormat, format))
		}
	}

	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a log level, using info", envLogLevel, raw))
		} else {
			logger.SetLevel(level)
		}
	}
	return warnings
}

func main() {
	for _, warning := range setupLogger(log.StandardLogger(), os.LookupEnv) {
		log.Warn(warning)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"environment":  cfg.Environment,
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
