package importer

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/facturaAR/invoice-admin-service/internal/models"
)

// buildExport assembles an xlsx shaped like the AFIP download: a title
// block, the header row, then data rows.
func buildExport(t *testing.T, dataRows [][]interface{}) *bytes.Reader {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Mis Comprobantes Recibidos"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"CUIT: 30-71234567-5"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{
		"Fecha", "Tipo", "Punto de Venta", "Número Desde", "Número Hasta",
		"Nro. Doc. Emisor", "Denominación Emisor", "Imp. Total",
	}))
	for i, row := range dataRows {
		cellRef, err := excelize.CoordinatesToCellName(1, 4+i)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestParse_WellFormedExport(t *testing.T) {
	r := buildExport(t, [][]interface{}{
		{"15/07/2026", "1 - Factura A", "00003", "00001542", "00001542", "20-10200053-7", "Ferreteria El Tornillo SRL", "12.345,67"},
		{"16/07/2026", "6 - Factura B", "00012", "00004821", "00004821", "30712345675", "Libreria Mitre", "3,965.34"},
	})

	result, err := Parse(r)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Parsed)
	assert.Zero(t, result.Skipped)
	require.Len(t, result.Rows, 2)

	first := result.Rows[0]
	assert.Equal(t, "20102000537", first.CUIT)
	assert.Equal(t, models.TypeA, first.InvoiceType)
	assert.Equal(t, 3, first.PointOfSale)
	assert.Equal(t, 1542, first.InvoiceNumber)
	require.NotNil(t, first.IssueDate)
	assert.Equal(t, "2026-07-15", first.IssueDate.Format("2006-01-02"))
	assert.Equal(t, "Ferreteria El Tornillo SRL", first.EmitterName)
	assert.True(t, first.Total.Equal(decimal.RequireFromString("12345.67")))
	assert.Equal(t, models.StatusPending, first.Status)

	second := result.Rows[1]
	assert.Equal(t, models.TypeB, second.InvoiceType)
	assert.Equal(t, 12, second.PointOfSale)
	assert.True(t, second.Total.Equal(decimal.RequireFromString("3965.34")))
}

func TestParse_SkipsMalformedRowsWithReasons(t *testing.T) {
	r := buildExport(t, [][]interface{}{
		{"15/07/2026", "1 - Factura A", "00003", "00001542", "", "20-10200053-7", "Bueno", "100"},
		{"15/07/2026", "1 - Factura A", "00003", "00001543", "", "no-es-cuit", "CUIT roto", "100"},
		{"15/07/2026", "99 - Otro Comprobante", "00003", "00001544", "", "20-10200053-7", "Tipo roto", "100"},
		{"15/07/2026", "1 - Factura A", "0", "00001545", "", "20-10200053-7", "PV roto", "100"},
	})

	result, err := Parse(r)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Parsed)
	assert.Equal(t, 3, result.Skipped)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "fila 5")
	assert.Contains(t, result.Errors[1], "fila 6")
	assert.Contains(t, result.Errors[2], "fila 7")
}

func TestParse_NoHeader(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"hoja", "sin", "encabezado"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	_, err = Parse(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestParseImporte(t *testing.T) {
	cases := map[string]string{
		"12345.67":  "12345.67",
		"12.345,67": "12345.67",
		"12,345.67": "12345.67",
		"12345,67":  "12345.67",
		"1.234.567": "1234567",
		"":          "0",
		"no-numero": "0",
	}
	for in, want := range cases {
		assert.True(t, parseImporte(in).Equal(decimal.RequireFromString(want)), "input %q", in)
	}
}
