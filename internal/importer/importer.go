// Package importer parses AFIP/ARCA "Mis Comprobantes Recibidos" Excel
// exports into expected-invoice rows for the reconciliation ledger.
package importer

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/facturaAR/invoice-admin-service/internal/cuit"
	"github.com/facturaAR/invoice-admin-service/internal/models"
)

// Result is the outcome of parsing one export file. Rows holds the
// well-formed expected invoices; malformed rows are skipped and reported
// in Errors so the operator can fix the export.
type Result struct {
	Rows    []models.ExpectedInvoice `json:"-"`
	Parsed  int                      `json:"parsed"`
	Skipped int                      `json:"skipped"`
	Errors  []string                 `json:"errors,omitempty"`
}

// column indexes resolved from the header row.
type layout struct {
	fecha  int
	tipo   int
	pos    int
	numero int
	cuit   int
	nombre int
	total  int
}

// Parse reads a "Mis Comprobantes Recibidos" xlsx. The export carries a
// title block above the real header row, so the header is located by its
// "Fecha" cell rather than assumed at row 1.
func Parse(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("Excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	headerIdx, lay, err := findHeader(rows)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}

		expected, err := parseRow(row, lay)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("fila %d: %v", i+1, err))
			continue
		}
		result.Rows = append(result.Rows, *expected)
		result.Parsed++
	}

	if result.Parsed == 0 && result.Skipped == 0 {
		return nil, fmt.Errorf("no data rows found below the header")
	}
	return result, nil
}

// findHeader locates the header row and resolves the column layout.
func findHeader(rows [][]string) (int, layout, error) {
	for i, row := range rows {
		for _, cell := range row {
			if normalizeHeader(cell) != "fecha" {
				continue
			}

			lay := layout{fecha: -1, tipo: -1, pos: -1, numero: -1, cuit: -1, nombre: -1, total: -1}
			for col, h := range row {
				switch normalizeHeader(h) {
				case "fecha", "fecha de emision":
					lay.fecha = col
				case "tipo", "tipo de comprobante":
					lay.tipo = col
				case "punto de venta":
					lay.pos = col
				case "numero desde", "numero":
					lay.numero = col
				case "nro. doc. emisor", "nro. doc. vendedor", "cuit":
					lay.cuit = col
				case "denominacion emisor", "denominacion vendedor":
					lay.nombre = col
				case "imp. total", "importe total":
					lay.total = col
				}
			}

			if lay.tipo < 0 || lay.pos < 0 || lay.numero < 0 || lay.cuit < 0 {
				return 0, layout{}, fmt.Errorf("header row %d is missing required columns (Tipo, Punto de Venta, Numero Desde, Nro. Doc. Emisor)", i+1)
			}
			return i, lay, nil
		}
	}
	return 0, layout{}, fmt.Errorf("no header row with a Fecha column found")
}

// normalizeHeader lowercases a header cell and strips the accents the
// export uses (Número, Denominación).
func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u")
	return replacer.Replace(s)
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func parseRow(row []string, lay layout) (*models.ExpectedInvoice, error) {
	e := &models.ExpectedInvoice{Status: models.StatusPending}

	normalized, err := cuit.Normalize(cell(row, lay.cuit))
	if err != nil {
		return nil, fmt.Errorf("CUIT emisor: %w", err)
	}
	e.CUIT = normalized

	e.InvoiceType = parseTipo(cell(row, lay.tipo))
	if e.InvoiceType == "" {
		return nil, fmt.Errorf("tipo de comprobante %q no reconocido", cell(row, lay.tipo))
	}

	e.PointOfSale, err = parseIntCell(cell(row, lay.pos))
	if err != nil || e.PointOfSale < 1 || e.PointOfSale > 99999 {
		return nil, fmt.Errorf("punto de venta %q invalido", cell(row, lay.pos))
	}

	e.InvoiceNumber, err = parseIntCell(cell(row, lay.numero))
	if err != nil || e.InvoiceNumber < 1 || e.InvoiceNumber > 99999999 {
		return nil, fmt.Errorf("numero de comprobante %q invalido", cell(row, lay.numero))
	}

	if lay.fecha >= 0 {
		if t, ok := parseFecha(cell(row, lay.fecha)); ok {
			e.IssueDate = &t
		}
	}
	if lay.nombre >= 0 {
		e.EmitterName = strings.TrimSpace(cell(row, lay.nombre))
	}
	if lay.total >= 0 {
		e.Total = parseImporte(cell(row, lay.total))
	}

	return e, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// tipoRegex matches labels like "1 - Factura A".
var tipoRegex = regexp.MustCompile(`(?i)FACTURA\s+([ABCEMX])\b`)

// comprobante codes per AFIP table.
var tipoByCode = map[int]models.InvoiceType{
	1: models.TypeA, 6: models.TypeB, 11: models.TypeC,
	19: models.TypeE, 51: models.TypeM,
}

func parseTipo(s string) models.InvoiceType {
	s = strings.TrimSpace(s)
	if t := models.InvoiceType(strings.ToUpper(s)); t.Valid() {
		return t
	}
	if m := tipoRegex.FindStringSubmatch(s); m != nil {
		return models.InvoiceType(strings.ToUpper(m[1]))
	}
	if code, err := strconv.Atoi(s); err == nil {
		if t, ok := tipoByCode[code]; ok {
			return t
		}
	}
	return ""
}

func parseIntCell(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	// The export zero-pads (00003, 00001542); Atoi handles that fine.
	return strconv.Atoi(s)
}

func parseFecha(s string) (time.Time, bool) {
	for _, format := range []string{"02/01/2006", "2006-01-02", "02-01-2006"} {
		if t, err := time.Parse(format, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseImporte handles the separator styles the export produces:
// "12345.67", "12.345,67" and "12,345.67".
func parseImporte(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0 && comma > dot:
		// 12.345,67
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case dot >= 0 && comma >= 0:
		// 12,345.67
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		// 12345,67
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Count(s, ".") > 1:
		// 1.234.567
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
