package inventory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Колонки выгрузки каталога магазина.
const (
	ColumnName        = "Nombre"
	ColumnPrice       = "Precio [El Guante]"
	ColumnStock       = "En inventario [El Guante]"
	ColumnCategory    = "Categoria"
	ColumnDescription = "Descripción"
	ColumnHandle      = "Handle"
	ColumnRef         = "REF"
)

// RowError: строка CSV, отклонённая при импорте.
type RowError struct {
	Line   int
	Name   string
	Errors []error
}

func (e RowError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("line %d (%s): %s", e.Line, e.Name, strings.Join(msgs, ", "))
}

// ImportReport: итог импорта.
type ImportReport struct {
	Valid    []domain.Product
	Rejected []RowError
	Imported int
	DryRun   bool
}

// ParseCSV читает каталог; невалидные строки попадают в Rejected и не прерывают разбор.
func ParseCSV(r io.Reader) (ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return ImportReport{}, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{ColumnName, ColumnPrice, ColumnCategory} {
		if _, ok := index[required]; !ok {
			return ImportReport{}, fmt.Errorf("csv column %q is missing", required)
		}
	}

	var report ImportReport
	line := 1
	now := time.Now().UTC()
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			report.Rejected = append(report.Rejected, RowError{Line: line, Errors: []error{err}})
			continue
		}

		field := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		p := domain.Product{
			Name:        field(ColumnName),
			Category:    field(ColumnCategory),
			Description: field(ColumnDescription),
			Handle:      field(ColumnHandle),
			Ref:         field(ColumnRef),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		var errs []error
		if p.PriceMinor, err = parseMinor(field(ColumnPrice)); err != nil {
			errs = append(errs, err)
		}
		if p.Stock, err = parseStock(field(ColumnStock)); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, p.Validate()...)
		if len(errs) > 0 {
			report.Rejected = append(report.Rejected, RowError{Line: line, Name: p.Name, Errors: errs})
			continue
		}

		p.ID = productID(p)
		report.Valid = append(report.Valid, p)
	}
	return report, nil
}

// Import разбирает CSV и сохраняет валидные товары; dryRun только проверяет файл.
func (s *Service) Import(ctx context.Context, r io.Reader, dryRun bool) (ImportReport, error) {
	report, err := ParseCSV(r)
	if err != nil {
		return report, err
	}
	report.DryRun = dryRun

	for _, rej := range report.Rejected {
		s.logger.WithField("line", rej.Line).WithField("name", rej.Name).Warn(rej.Error())
	}
	if dryRun {
		return report, nil
	}

	for _, p := range report.Valid {
		previous, err := s.products.Get(ctx, p.ID)
		existed := err == nil
		if err != nil && !errors.Is(err, domain.ErrProductNotFound) {
			return report, fmt.Errorf("get product %s: %w", p.ID, err)
		}
		if existed {
			p.CreatedAt = previous.CreatedAt
		}
		if err := s.products.Upsert(ctx, p); err != nil {
			return report, fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
		report.Imported++

		if existed && previous.PriceMinor != p.PriceMinor && s.prices != nil {
			change := domain.PriceChange{
				ProductID:     p.ID,
				OldPriceMinor: previous.PriceMinor,
				NewPriceMinor: p.PriceMinor,
				ChangedBy:     "import",
				Reason:        "catalog import",
				ChangedAt:     p.UpdatedAt,
			}
			if err := s.prices.PriceChanged(ctx, p, change); err != nil {
				s.logger.WithError(err).WithField("product_id", p.ID).Warn("record imported price change failed")
			}
		}
	}

	s.logger.WithFields(log.Fields{
		"imported": report.Imported,
		"rejected": len(report.Rejected),
	}).Info("catalog import finished")
	return report, nil
}

// productID: Handle или REF делают повторный импорт идемпотентным.
func productID(p domain.Product) string {
	switch {
	case p.Handle != "":
		return p.Handle
	case p.Ref != "":
		return p.Ref
	default:
		return uuid.NewString()
	}
}

func parseMinor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, domain.NewValidationError("invalid price " + strconv.Quote(raw))
	}
	return int64(math.Round(v * 100)), nil
}

func parseStock(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0, domain.NewValidationError("invalid stock " + strconv.Quote(raw))
	}
	return int64(math.Floor(v)), nil
}
