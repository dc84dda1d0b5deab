package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// loadMode: сценарий одного прогона. Реализует pflag.Value.
type loadMode string

const (
	modePlace        loadMode = "place"
	modePlaceConfirm loadMode = "place-confirm"
	modePlaceCancel  loadMode = "place-cancel"
)

var loadModes = []loadMode{modePlace, modePlaceConfirm, modePlaceCancel}

func (m *loadMode) String() string { return string(*m) }

func (m *loadMode) Set(value string) error {
	parsed, err := parseMode(value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m *loadMode) Type() string { return "mode" }

func parseMode(value string) (loadMode, error) {
	candidate := loadMode(strings.TrimSpace(value))
	for _, mode := range loadModes {
		if mode == candidate {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unsupported mode: %s", value)
}

// needsAdmin сообщает, ходит ли сценарий в admin gRPC.
func (m loadMode) needsAdmin() bool { return m != modePlace }

type config struct {
	baseURL       string
	adminAddr     string
	adminToken    string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	paymentMethod string
	productID     string
	itemName      string
	unitPrice     float64
	customerTag   string
	outputPath    string
}

func defaultConfig() config {
	return config{
		baseURL:       "http://localhost:3000",
		adminAddr:     "localhost:50051",
		total:         400,
		concurrency:   40,
		connections:   4,
		timeout:       5 * time.Second,
		mode:          modePlace,
		paymentMethod: "efectivo",
		itemName:      "Load item",
		unitPrice:     10,
		customerTag:   "load",
	}
}

// normalize чистит строковые поля и проверяет ограничения; возвращает все нарушения сразу.
func (c *config) normalize() error {
	c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	c.adminAddr = strings.TrimSpace(c.adminAddr)

	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.baseURL != "", "base-url is required")
	check(!c.mode.needsAdmin() || c.adminAddr != "", "admin-addr is required for confirm and cancel modes")
	check(c.duration >= 0, "duration must be >= 0")
	check(c.duration != 0 || c.total > 0, "total must be > 0 when duration is not set")
	check(c.duration <= 0 || !c.totalSet || c.total > 0, "total must be > 0 when explicitly set with duration")
	check(c.concurrency > 0, "concurrency must be > 0")
	check(c.connections > 0, "connections must be > 0")
	check(c.timeout > 0, "timeout must be > 0")
	check(c.unitPrice > 0, "unit-price must be > 0")
	check(c.cancelRate >= 0 && c.cancelRate <= 100, "cancel-rate must be between 0 and 100")
	check(strings.TrimSpace(c.paymentMethod) != "", "payment-method is required")
	check(strings.TrimSpace(c.itemName) != "", "item-name is required")
	check(strings.TrimSpace(c.customerTag) != "", "customer-tag is required")

	return errors.Join(errs...)
}

// describeRun описывает границу прогона для отчёта.
func (c config) describeRun() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}
