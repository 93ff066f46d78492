// Package recon reconciles extracted invoice data against the expected
// ledger imported from AFIP/ARCA exports: exact natural-key matching,
// weighted partial-match scoring, and confidence-gated automation.
package recon

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/facturaAR/invoice-admin-service/internal/cuit"
	"github.com/facturaAR/invoice-admin-service/internal/models"
)

const (
	maxPointOfSale   = 99999
	maxInvoiceNumber = 99999999
)

// Config carries the tunable reconciliation parameters. It is constructed
// once and passed in explicitly; the resolver and gate keep no mutable
// package state.
type Config struct {
	// NumberTolerance is the maximum invoice-number distance that still
	// earns proximity credit. Contribution decays linearly:
	// round(100 * (1 - d/(NumberTolerance+1))).
	NumberTolerance int

	// AutoLinkThreshold is the minimum extractor confidence for creating
	// an invoice without an expected-ledger match.
	AutoLinkThreshold int

	// ExactMatchConfidence is the confidence recorded on invoices created
	// from an exact ledger match, reflecting ledger-grade trust.
	ExactMatchConfidence int

	// CandidateLimit bounds candidate lists when the caller does not
	// supply its own limit.
	CandidateLimit int
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		NumberTolerance:      9,
		AutoLinkThreshold:    80,
		ExactMatchConfidence: 95,
		CandidateLimit:       10,
	}
}

// NaturalKey identifies an invoice uniquely: emitter CUIT, comprobante
// letter, punto de venta and numero.
type NaturalKey struct {
	CUIT          string
	InvoiceType   models.InvoiceType
	PointOfSale   int
	InvoiceNumber int
}

// Criteria is a flexible subset of key fields for the candidate search.
// Zero values mean "not supplied": the field contributes nothing and is
// left out of the scoring denominator (CUIT) or simply never matches
// (type, punto de venta, numero).
type Criteria struct {
	CUIT          string
	InvoiceType   models.InvoiceType
	PointOfSale   int
	InvoiceNumber int
	Limit         int
}

// Ledger is the expected-invoice collaborator. Implementations must only
// surface rows whose status is still open (not matched) and wrap
// persistence failures in *StorageError.
type Ledger interface {
	// FindByKey returns the open row with exactly this natural key, or
	// nil when there is none.
	FindByKey(ctx context.Context, key NaturalKey) (*models.ExpectedInvoice, error)

	// ListOpen returns every open row, ordered by ascending id.
	ListOpen(ctx context.Context) ([]models.ExpectedInvoice, error)

	// GetByID returns the row with this id regardless of status, or a
	// *NotFoundError.
	GetByID(ctx context.Context, id int64) (*models.ExpectedInvoice, error)
}

// Resolver determines which expected invoice, if any, an extracted
// document corresponds to.
type Resolver struct {
	ledger Ledger
	cfg    Config
}

// NewResolver constructs a resolver over the given ledger.
func NewResolver(ledger Ledger, cfg Config) *Resolver {
	if cfg.NumberTolerance <= 0 {
		cfg.NumberTolerance = DefaultConfig().NumberTolerance
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultConfig().CandidateLimit
	}
	return &Resolver{ledger: ledger, cfg: cfg}
}

// FindExactMatch looks up the single open expected invoice with this
// natural key. A miss returns (nil, nil); only malformed keys and storage
// failures are errors.
func (r *Resolver) FindExactMatch(ctx context.Context, key NaturalKey) (*models.ExpectedInvoice, error) {
	normalized, err := cuit.Normalize(key.CUIT)
	if err != nil {
		return nil, &ValidationError{Field: "cuit", Message: err.Error()}
	}
	if !key.InvoiceType.Valid() {
		return nil, &ValidationError{Field: "tipo_comprobante", Message: fmt.Sprintf("unknown comprobante letter %q", string(key.InvoiceType))}
	}
	if key.PointOfSale < 1 || key.PointOfSale > maxPointOfSale {
		return nil, &ValidationError{Field: "punto_venta", Message: fmt.Sprintf("%d out of range 1-%d", key.PointOfSale, maxPointOfSale)}
	}
	if key.InvoiceNumber < 1 || key.InvoiceNumber > maxInvoiceNumber {
		return nil, &ValidationError{Field: "numero", Message: fmt.Sprintf("%d out of range 1-%d", key.InvoiceNumber, maxInvoiceNumber)}
	}

	key.CUIT = normalized
	return r.ledger.FindByKey(ctx, key)
}

// FindCandidates scores every open expected row against the criteria and
// returns the top matches, sorted by score descending with ties broken by
// ascending id. Each matched field contributes 100 points (the invoice
// number also earns decayed proximity credit within the tolerance
// window); the score is the contribution average over the fields actually
// compared. CUIT is left out of that average when not supplied.
//
// With zero criteria every open row comes back with score 0 in id order,
// which is the "browse all open expected invoices" mode.
func (r *Resolver) FindCandidates(ctx context.Context, c Criteria) ([]models.MatchCandidate, error) {
	cuitSupplied := c.CUIT != ""
	if cuitSupplied {
		normalized, err := cuit.Normalize(c.CUIT)
		if err != nil {
			return nil, &ValidationError{Field: "cuit", Message: err.Error()}
		}
		c.CUIT = normalized
	}
	if c.InvoiceType != "" && !c.InvoiceType.Valid() {
		return nil, &ValidationError{Field: "tipo_comprobante", Message: fmt.Sprintf("unknown comprobante letter %q", string(c.InvoiceType))}
	}
	if c.PointOfSale < 0 || c.PointOfSale > maxPointOfSale {
		return nil, &ValidationError{Field: "punto_venta", Message: fmt.Sprintf("%d out of range", c.PointOfSale)}
	}
	if c.InvoiceNumber < 0 || c.InvoiceNumber > maxInvoiceNumber {
		return nil, &ValidationError{Field: "numero", Message: fmt.Sprintf("%d out of range", c.InvoiceNumber)}
	}

	rows, err := r.ledger.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	compared := 4
	if !cuitSupplied {
		compared = 3
	}

	candidates := make([]models.MatchCandidate, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		score, fields := r.scoreRow(c, compared, row)
		candidates = append(candidates, models.MatchCandidate{
			ExpectedID:    row.ID,
			Expected:      row,
			MatchScore:    score,
			MatchedFields: fields,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MatchScore != candidates[j].MatchScore {
			return candidates[i].MatchScore > candidates[j].MatchScore
		}
		return candidates[i].ExpectedID < candidates[j].ExpectedID
	})

	limit := c.Limit
	if limit <= 0 {
		limit = r.cfg.CandidateLimit
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// scoreRow computes one row's contribution average and the matched-field
// list, in the fixed order cuit, invoiceType, pointOfSale,
// invoiceNumber(~). The criteria CUIT must already be normalized and
// compared says how many fields enter the denominator.
func (r *Resolver) scoreRow(c Criteria, compared int, row *models.ExpectedInvoice) (int, []string) {
	points := 0
	var fields []string

	if c.CUIT != "" && c.CUIT == row.CUIT {
		points += 100
		fields = append(fields, "cuit")
	}
	if c.InvoiceType != "" && c.InvoiceType == row.InvoiceType {
		points += 100
		fields = append(fields, "invoiceType")
	}
	if c.PointOfSale != 0 && c.PointOfSale == row.PointOfSale {
		points += 100
		fields = append(fields, "pointOfSale")
	}
	if c.InvoiceNumber != 0 {
		switch d := abs(c.InvoiceNumber - row.InvoiceNumber); {
		case d == 0:
			points += 100
			fields = append(fields, "invoiceNumber")
		case d <= r.cfg.NumberTolerance:
			if p := proximityPoints(d, r.cfg.NumberTolerance); p > 0 {
				points += p
				fields = append(fields, "invoiceNumber~")
			}
		}
	}

	score := int(math.Round(float64(points) / float64(compared)))
	if score > 100 {
		score = 100
	}
	return score, fields
}

// scoreAgainst scores a single expected row for the criteria derived from
// an extracted record (already sanitized). Used when a human confirms a
// candidate, so the persisted score is computed server-side.
func (r *Resolver) scoreAgainst(rec models.ExtractedRecord, row *models.ExpectedInvoice) int {
	c := Criteria{
		CUIT:          rec.CUIT,
		InvoiceType:   rec.InvoiceType,
		PointOfSale:   rec.PointOfSale,
		InvoiceNumber: rec.InvoiceNumber,
	}
	compared := 4
	if c.CUIT == "" {
		compared = 3
	}
	score, _ := r.scoreRow(c, compared, row)
	return score
}

// proximityPoints is the decayed invoice-number contribution for a
// non-exact number at distance d, linear down to zero past the tolerance
// window: distance 5 with the default window earns 50 points.
func proximityPoints(d, tolerance int) int {
	if d <= 0 || d > tolerance {
		return 0
	}
	return int(math.Round(100 * (1 - float64(d)/float64(tolerance+1))))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
