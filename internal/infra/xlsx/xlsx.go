package xlsx

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/coffee-stock/internal/domain/inventory"
	"github.com/Spok95/coffee-stock/internal/domain/materials"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var ErrBadFormat = errors.New("xlsx: bad file format")

// RowError указывает строку файла (с 1, как в Excel) и колонку с ошибкой.
type RowError struct {
	Row    int
	Column string
	Value  string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("xlsx: row %d: invalid %s %q", e.Row, e.Column, e.Value)
}

func (e *RowError) Is(target error) bool { return target == ErrBadFormat }

var importationHeader = []interface{}{
	"material_id",
	"material_name",
	"unit",
	"date", // YYYY-MM-DD или DD.MM.YYYY, пусто — сегодня
	"qty",
	"price_per_unit",
}

const (
	colMaterialID = 0
	colDate       = 3
	colQty        = 4
	colPrice      = 5
)

// WriteStockReport выгружает отчёт об остатках: лист материалов и лист сверки.
func WriteStockReport(w io.Writer, rep inventory.StockReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(sheet, "stock"); err != nil {
		return err
	}
	sheet = "stock"

	header := []interface{}{"material_id", "code", "material_name", "unit", "remain", "available", "date"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	date := rep.Date.Format(time.DateOnly)
	for i, l := range rep.Lines {
		row := []interface{}{
			l.Material.ID,
			l.Material.Code,
			l.Material.Name,
			l.Material.Unit.Symbol,
			l.Remain.InexactFloat64(),
			l.Available.InexactFloat64(),
			date,
		}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet("reconciliation"); err != nil {
		return err
	}
	recHeader := []interface{}{"material_id", "old_remain", "new_remain", "total_contracted"}
	if err := f.SetSheetRow("reconciliation", "A1", &recHeader); err != nil {
		return err
	}
	for i, l := range rep.Reconciled.Lines {
		row := []interface{}{
			l.MaterialID,
			l.OldRemain.InexactFloat64(),
			l.NewRemain.InexactFloat64(),
			l.TotalContracted.InexactFloat64(),
		}
		if err := setRow(f, "reconciliation", i+2, row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// WriteImportationTemplate — шаблон поставки: материалы с пустыми qty/price.
func WriteImportationTemplate(w io.Writer, ms []materials.Material) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetRow(sheet, "A1", &importationHeader); err != nil {
		return err
	}
	for i, m := range ms {
		row := []interface{}{m.ID, m.Name, m.Unit.Symbol, "", "", ""}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

// ParseImportation читает поставку. Строки без material_id или qty пропускаются.
func ParseImportation(r io.Reader) ([]inventory.ImportationRequest, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFormat, err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFormat, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows", ErrBadFormat)
	}
	if len(rows[0]) < len(importationHeader) {
		return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrBadFormat, len(importationHeader), len(rows[0]))
	}

	var out []inventory.ImportationRequest
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		cell := func(c int) string {
			if c < len(row) {
				return strings.TrimSpace(row[c])
			}
			return ""
		}
		idStr, qtyStr := cell(colMaterialID), cell(colQty)
		if idStr == "" || qtyStr == "" {
			continue
		}

		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return nil, &RowError{Row: i + 1, Column: "material_id", Value: idStr}
		}
		qty, err := parseDecimal(qtyStr)
		if err != nil || !qty.IsPositive() {
			return nil, &RowError{Row: i + 1, Column: "qty", Value: qtyStr}
		}
		price := decimal.Zero
		if s := cell(colPrice); s != "" {
			price, err = parseDecimal(s)
			if err != nil || price.IsNegative() {
				return nil, &RowError{Row: i + 1, Column: "price_per_unit", Value: s}
			}
		}
		var date time.Time
		if s := cell(colDate); s != "" {
			date, err = parseDate(s)
			if err != nil {
				return nil, &RowError{Row: i + 1, Column: "date", Value: s}
			}
		}

		out = append(out, inventory.ImportationRequest{MaterialID: id, Date: date, Quantity: qty, PricePerUnit: price})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no rows with material_id and qty", ErrBadFormat)
	}
	return out, nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown date format %q", s)
}
