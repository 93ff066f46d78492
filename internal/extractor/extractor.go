// Package extractor pulls structured factura fields out of an uploaded
// document using a vision AI provider, and reports how confident it is
// in what it read.
package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturaAR/invoice-admin-service/internal/cuit"
	"github.com/facturaAR/invoice-admin-service/internal/models"
)

// Provider is a vision AI backend capable of reading an invoice image or
// PDF and answering with JSON.
type Provider interface {
	Name() string
	ExtractData(ctx context.Context, prompt, imageBase64, contentType string) (string, error)
}

// Extractor runs the extraction prompt against a provider and parses the
// answer into an ExtractedRecord.
type Extractor struct {
	provider Provider
}

// New creates an extractor over the given provider.
func New(provider Provider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract reads one document. The returned record is best-effort: fields
// the model could not read are zero and the confidence reflects how much
// of the natural key survived.
func (e *Extractor) Extract(ctx context.Context, imageData []byte, contentType string) (*models.ExtractedRecord, float64, error) {
	startTime := time.Now()

	imageBase64 := base64.StdEncoding.EncodeToString(imageData)
	response, err := e.provider.ExtractData(ctx, buildPrompt(), imageBase64, contentType)
	if err != nil {
		return nil, 0, fmt.Errorf("AI extraction failed: %w", err)
	}

	duration := time.Since(startTime).Seconds()

	rec, err := parseResponse(response)
	if err != nil {
		return nil, duration, fmt.Errorf("failed to parse AI response: %w", err)
	}
	return rec, duration, nil
}

// buildPrompt is the Spanish extraction prompt for Argentine facturas.
func buildPrompt() string {
	currentYear := time.Now().Year()

	return fmt.Sprintf(`Eres un EXPERTO en facturas fiscales de Argentina (AFIP/ARCA). Tu trabajo es LEER CUIDADOSAMENTE el documento y extraer los datos fiscales.

## DONDE BUSCAR

- El TIPO de comprobante es la letra grande en un recuadro arriba al centro (A, B, C, E, M o X), a veces con el codigo debajo (COD. 01 = A, COD. 06 = B, COD. 11 = C, COD. 19 = E, COD. 51 = M).
- El numero completo aparece arriba a la derecha como "Punto de Venta: XXXXX  Comp. Nro: XXXXXXXX" o abreviado "XXXXX-XXXXXXXX".
- El CUIT del EMISOR (quien VENDE) esta en el encabezado, formato XX-XXXXXXXX-X. NO confundir con el CUIT del receptor, que aparece mas abajo junto a "Sr./Sres." o "Cliente".
- La fecha de emision dice "Fecha de Emision" o "Fecha".
- El importe total es el numero final, "TOTAL" o "Importe Total".

## CAMPOS A EXTRAER

Devuelve SOLO JSON valido (sin markdown, sin comentarios):
{
  "cuitEmisor": "solo digitos, sin guiones - del VENDEDOR",
  "denominacionEmisor": "razon social del emisor",
  "tipoComprobante": "A, B, C, E, M o X",
  "puntoVenta": numero (1-99999),
  "numero": numero del comprobante (1-99999999),
  "fechaEmision": "YYYY-MM-DD",
  "importeTotal": numero final a pagar (usa 0 si no puedes leerlo, NUNCA null)
}

## REGLAS CRITICAS

1. LEE CARACTER POR CARACTER si el texto es dificil
2. NUNCA inventes datos - usa null si no puedes leer
3. NUNCA copies el CUIT del receptor en cuitEmisor
4. El punto de venta y el numero NO llevan ceros a la izquierda en el JSON
5. Ano por defecto si no se ve: %d
6. Los montos deben ser numeros decimales (no strings)

AHORA ANALIZA EL DOCUMENTO y extrae los datos.`, currentYear)
}

// tipoRegex matches comprobante labels like "1 - Factura A".
var tipoRegex = regexp.MustCompile(`FACTURA\s+([ABCEMX])\b`)

// comprobante codes per AFIP table.
var tipoByCode = map[int]models.InvoiceType{
	1: models.TypeA, 2: models.TypeA, 3: models.TypeA,
	6: models.TypeB, 7: models.TypeB, 8: models.TypeB,
	11: models.TypeC, 12: models.TypeC, 13: models.TypeC,
	19: models.TypeE, 20: models.TypeE, 21: models.TypeE,
	51: models.TypeM, 52: models.TypeM, 53: models.TypeM,
}

// parseResponse converts the AI JSON answer into an ExtractedRecord.
func parseResponse(response string) (*models.ExtractedRecord, error) {
	// Clean response (remove markdown code blocks if present)
	cleaned := strings.TrimSpace(response)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	// Flexible number parsing: models answer with numbers, strings, or
	// strings with thousands separators.
	var raw struct {
		CUITEmisor         string      `json:"cuitEmisor"`
		DenominacionEmisor string      `json:"denominacionEmisor"`
		TipoComprobante    string      `json:"tipoComprobante"`
		PuntoVenta         interface{} `json:"puntoVenta"`
		Numero             interface{} `json:"numero"`
		FechaEmision       string      `json:"fechaEmision"`
		ImporteTotal       interface{} `json:"importeTotal"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w - Response: %s", err, cleaned)
	}

	rec := &models.ExtractedRecord{
		EmitterName:   strings.TrimSpace(raw.DenominacionEmisor),
		InvoiceType:   parseInvoiceType(raw.TipoComprobante),
		PointOfSale:   int(parseDecimal(raw.PuntoVenta).IntPart()),
		InvoiceNumber: int(parseDecimal(raw.Numero).IntPart()),
		IssueDate:     parseDate(raw.FechaEmision),
		Total:         parseDecimal(raw.ImporteTotal),
	}

	if normalized, err := cuit.Normalize(raw.CUITEmisor); err == nil {
		rec.CUIT = normalized
	}
	if rec.PointOfSale < 0 || rec.PointOfSale > 99999 {
		rec.PointOfSale = 0
	}
	if rec.InvoiceNumber < 0 || rec.InvoiceNumber > 99999999 {
		rec.InvoiceNumber = 0
	}

	rec.Confidence = calculateConfidence(rec)
	return rec, nil
}

// parseInvoiceType accepts the bare letter, an AFIP code, or a label
// like "1 - Factura A".
func parseInvoiceType(s string) models.InvoiceType {
	s = strings.ToUpper(strings.TrimSpace(s))
	if t := models.InvoiceType(s); t.Valid() {
		return t
	}
	if m := tipoRegex.FindStringSubmatch(s); m != nil {
		return models.InvoiceType(m[1])
	}
	if code, err := parseLeadingInt(s); err == nil {
		if t, ok := tipoByCode[code]; ok {
			return t
		}
	}
	return ""
}

func parseLeadingInt(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("no digits")
	}
	var n int
	_, err := fmt.Sscanf(s[:i], "%d", &n)
	return n, err
}

// parseDate normalizes the emission date to YYYY-MM-DD, trying the
// formats seen on printed facturas.
func parseDate(s string) string {
	if s == "" {
		return ""
	}
	formats := []string{
		"2006-01-02",
		"02/01/2006",
		"02-01-2006",
		"2006/01/02",
		"2006-01-02T15:04:05Z07:00",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// parseDecimal handles flexible number parsing from interface{}.
// Supports: numbers, strings, strings with commas (e.g., "3,965.34").
func parseDecimal(v interface{}) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}

	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case string:
		if val == "" {
			return decimal.Zero
		}
		cleaned := strings.ReplaceAll(val, ",", "")
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// calculateConfidence scores extraction quality 0-100.
//
// Breakdown:
//
//	Key fields:   CUIT present +20, tipo +10, punto de venta +15, numero +15
//	Other fields: fecha +10, total > 0 +20
//	Bonus:        CUIT verifier digit checks out +10
func calculateConfidence(rec *models.ExtractedRecord) int {
	score := 0

	if rec.CUIT != "" {
		score += 20
		if cuit.Valid(rec.CUIT) {
			score += 10
		}
	}
	if rec.InvoiceType != "" {
		score += 10
	}
	if rec.PointOfSale > 0 {
		score += 15
	}
	if rec.InvoiceNumber > 0 {
		score += 15
	}
	if rec.IssueDate != "" {
		score += 10
	}
	if rec.Total.GreaterThan(decimal.Zero) {
		score += 20
	}

	if score > 100 {
		score = 100
	}
	return score
}
