package extractor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaAR/invoice-admin-service/internal/models"
)

type stubProvider struct {
	response string
	err      error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) ExtractData(ctx context.Context, prompt, imageBase64, contentType string) (string, error) {
	return s.response, s.err
}

func TestExtract_ParsesCleanJSON(t *testing.T) {
	e := New(&stubProvider{response: `{
		"cuitEmisor": "20-10200053-7",
		"denominacionEmisor": "Ferreteria El Tornillo SRL",
		"tipoComprobante": "A",
		"puntoVenta": 3,
		"numero": 1542,
		"fechaEmision": "2026-07-15",
		"importeTotal": 12345.67
	}`})

	rec, _, err := e.Extract(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "20102000537", rec.CUIT)
	assert.Equal(t, "Ferreteria El Tornillo SRL", rec.EmitterName)
	assert.Equal(t, models.TypeA, rec.InvoiceType)
	assert.Equal(t, 3, rec.PointOfSale)
	assert.Equal(t, 1542, rec.InvoiceNumber)
	assert.Equal(t, "2026-07-15", rec.IssueDate)
	assert.True(t, rec.Total.Equal(decimal.RequireFromString("12345.67")))
	assert.Equal(t, 100, rec.Confidence)
}

func TestExtract_ToleratesMarkdownFencesAndStringNumbers(t *testing.T) {
	e := New(&stubProvider{response: "```json\n" + `{
		"cuitEmisor": "30712345675",
		"tipoComprobante": "6 - Factura B",
		"puntoVenta": "00012",
		"numero": "00004821",
		"fechaEmision": "15/07/2026",
		"importeTotal": "3,965.34"
	}` + "\n```"})

	rec, _, err := e.Extract(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, models.TypeB, rec.InvoiceType)
	assert.Equal(t, 12, rec.PointOfSale)
	assert.Equal(t, 4821, rec.InvoiceNumber)
	assert.Equal(t, "2026-07-15", rec.IssueDate)
	assert.True(t, rec.Total.Equal(decimal.RequireFromString("3965.34")))
}

func TestExtract_DropsUnreadableFields(t *testing.T) {
	e := New(&stubProvider{response: `{
		"cuitEmisor": "2O-1020OO53",
		"tipoComprobante": "Z",
		"puntoVenta": 0,
		"numero": 123456789,
		"fechaEmision": "sin fecha",
		"importeTotal": null
	}`})

	rec, _, err := e.Extract(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)

	assert.Empty(t, rec.CUIT)
	assert.Empty(t, string(rec.InvoiceType))
	assert.Zero(t, rec.PointOfSale)
	assert.Zero(t, rec.InvoiceNumber, "out-of-range comprobante number should be dropped")
	assert.Empty(t, rec.IssueDate)
	assert.True(t, rec.Total.IsZero())
	assert.Zero(t, rec.Confidence)
}

func TestExtract_InvalidJSONFails(t *testing.T) {
	e := New(&stubProvider{response: "lo siento, no puedo leer el documento"})

	_, _, err := e.Extract(context.Background(), []byte("img"), "image/jpeg")
	assert.Error(t, err)
}

func TestCalculateConfidence_ChecksumBonus(t *testing.T) {
	rec := &models.ExtractedRecord{CUIT: "20102000537"}
	assert.Equal(t, 30, calculateConfidence(rec), "valid verifier digit earns the bonus")

	rec.CUIT = "20102000538"
	assert.Equal(t, 20, calculateConfidence(rec))
}

func TestParseInvoiceType(t *testing.T) {
	cases := map[string]models.InvoiceType{
		"A":              models.TypeA,
		"b":              models.TypeB,
		"1 - Factura A":  models.TypeA,
		"11 - Factura C": models.TypeC,
		"FACTURA E":      models.TypeE,
		"51":             models.TypeM,
		"Z":              "",
		"99 - Otro":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseInvoiceType(in), "input %q", in)
	}
}
