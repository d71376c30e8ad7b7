package recipes

import "github.com/shopspring/decimal"

// Recipe принадлежит ровно одному продукту.
type Recipe struct {
	ID        int64
	ProductID int64
	MultiSize bool // продукт продаётся в нескольких размерах
	Lines     []Line
}

type Line struct {
	ID         int64
	MaterialID int64
	BaseAmount decimal.Decimal           // расход на единицу продукта
	SizeExtra  map[int64]decimal.Decimal // size_id -> добавка к базовому расходу
}

// Requirement — сколько материала нужно списать.
type Requirement struct {
	MaterialID int64
	Amount     decimal.Decimal
}
