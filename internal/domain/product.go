package domain

import (
	"strings"
	"time"
)

// Product: товар каталога витрины.
type Product struct {
	ID          string
	Name        string
	PriceMinor  int64
	Stock       int64
	Category    string
	Description string
	Handle      string
	Ref         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет правила импорта каталога: имя и категория обязательны,
// цена положительная, остаток неотрицательный.
func (p *Product) Validate() []error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, NewValidationError("product name is required"))
	}
	if p.PriceMinor <= 0 {
		errs = append(errs, NewValidationError("product price must be greater than zero"))
	}
	if p.Stock < 0 {
		errs = append(errs, NewValidationError("product stock must be non-negative"))
	}
	if strings.TrimSpace(p.Category) == "" {
		errs = append(errs, NewValidationError("product category is required"))
	}
	return errs
}

// ProductFilter задаёт выборку каталога.
type ProductFilter struct {
	Category string
	Limit    int
}

// StockAdjustment описывает списание остатка по позиции заказа.
// Списание не уводит остаток ниже нуля, поэтому Applied может быть меньше Requested.
type StockAdjustment struct {
	ProductID string
	Requested int64
	Applied   int64
	Remaining int64
}

// Clamped сообщает, что остатка не хватило на всё количество.
func (a StockAdjustment) Clamped() bool {
	return a.Applied < a.Requested
}

// ApplyDecrement считает списание с ограничением снизу нулём.
func ApplyDecrement(productID string, stock, qty int64) StockAdjustment {
	applied := qty
	if applied > stock {
		applied = stock
	}
	if applied < 0 {
		applied = 0
	}
	return StockAdjustment{
		ProductID: productID,
		Requested: qty,
		Applied:   applied,
		Remaining: stock - applied,
	}
}
