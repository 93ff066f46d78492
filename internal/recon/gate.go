package recon

import (
	"context"

	"github.com/google/uuid"

	"github.com/facturaAR/invoice-admin-service/internal/cuit"
	"github.com/facturaAR/invoice-admin-service/internal/models"
)

// Outcome is the gate's decision for one processing attempt.
type Outcome string

const (
	// OutcomeAutoLinked: an exact ledger match was consumed and the
	// invoice was created from the expected row's authoritative fields.
	OutcomeAutoLinked Outcome = "auto_linked"

	// OutcomeAutoCreated: no ledger match, but the extractor's own
	// confidence was high enough to create the invoice directly.
	OutcomeAutoCreated Outcome = "auto_created"

	// OutcomePendingReview: candidates were computed and a human must
	// confirm.
	OutcomePendingReview Outcome = "pending_review"

	// OutcomeFailed: extraction produced nothing to work with.
	OutcomeFailed Outcome = "failed"
)

// Result is what one pass through the gate produced.
type Result struct {
	Outcome    Outcome                 `json:"outcome"`
	Invoice    *models.Invoice         `json:"invoice,omitempty"`
	Expected   *models.ExpectedInvoice `json:"expected,omitempty"`
	Candidates []models.MatchCandidate `json:"candidates,omitempty"`
}

// Committer applies the matching side effects as one logical transaction.
// Implementations must guarantee all-or-nothing semantics: if creating
// the invoice fails (duplicate key, consumed expected row), neither the
// file link nor the status transition may be applied.
type Committer interface {
	// CommitMatch creates the finalized invoice from the expected row's
	// authoritative fields, links the source file, and transitions the
	// expected row to matched. Fails with *ConflictError when the row is
	// already matched or the invoice key already exists.
	CommitMatch(ctx context.Context, expectedID int64, fileID uuid.UUID, extracted models.ExtractedRecord, score, confidence int, source models.InvoiceSource) (*models.Invoice, error)

	// CreateFromExtracted creates a finalized invoice straight from the
	// extracted fields, with no expected-ledger linkage.
	CreateFromExtracted(ctx context.Context, fileID uuid.UUID, rec models.ExtractedRecord) (*models.Invoice, error)
}

// Gate turns an extraction result into one of the four outcomes. The
// decision is one-shot per processing attempt: reprocessing a document
// re-runs the whole pipeline and discards the previous attempt's
// extraction, never an already-finalized invoice.
type Gate struct {
	resolver  *Resolver
	committer Committer
	cfg       Config
}

// NewGate wires the gate to its resolver and committer.
func NewGate(resolver *Resolver, committer Committer, cfg Config) *Gate {
	if cfg.AutoLinkThreshold <= 0 {
		cfg.AutoLinkThreshold = DefaultConfig().AutoLinkThreshold
	}
	if cfg.ExactMatchConfidence <= 0 {
		cfg.ExactMatchConfidence = DefaultConfig().ExactMatchConfidence
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultConfig().CandidateLimit
	}
	return &Gate{resolver: resolver, committer: committer, cfg: cfg}
}

// Process decides what to do with one extracted document.
func (g *Gate) Process(ctx context.Context, fileID uuid.UUID, rec models.ExtractedRecord) (*Result, error) {
	rec = sanitize(rec)

	if rec.Empty() {
		return &Result{Outcome: OutcomeFailed}, nil
	}

	if rec.HasFullKey() {
		exact, err := g.resolver.FindExactMatch(ctx, NaturalKey{
			CUIT:          rec.CUIT,
			InvoiceType:   rec.InvoiceType,
			PointOfSale:   rec.PointOfSale,
			InvoiceNumber: rec.InvoiceNumber,
		})
		if err != nil {
			return nil, err
		}
		if exact != nil {
			// The ledger row is authoritative; record ledger-grade
			// confidence regardless of what the extractor reported.
			inv, err := g.committer.CommitMatch(ctx, exact.ID, fileID, rec, 100, g.cfg.ExactMatchConfidence, models.SourceAutoExact)
			if err != nil {
				return nil, err
			}
			return &Result{Outcome: OutcomeAutoLinked, Invoice: inv, Expected: exact}, nil
		}
	}

	if rec.Confidence >= g.cfg.AutoLinkThreshold && rec.HasFullKey() {
		inv, err := g.committer.CreateFromExtracted(ctx, fileID, rec)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeAutoCreated, Invoice: inv}, nil
	}

	candidates, err := g.resolver.FindCandidates(ctx, Criteria{
		CUIT:          rec.CUIT,
		InvoiceType:   rec.InvoiceType,
		PointOfSale:   rec.PointOfSale,
		InvoiceNumber: rec.InvoiceNumber,
		Limit:         g.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomePendingReview, Candidates: candidates}, nil
}

// Confirm applies a human's confirmation of a candidate. The score is
// recomputed server-side against the confirmed row so the recorded value
// never depends on what the client displayed.
func (g *Gate) Confirm(ctx context.Context, expectedID int64, fileID uuid.UUID, extracted models.ExtractedRecord) (*models.Invoice, error) {
	extracted = sanitize(extracted)

	row, err := g.resolver.ledger.GetByID(ctx, expectedID)
	if err != nil {
		return nil, err
	}
	if !row.Status.Open() {
		return nil, &ConflictError{Message: "expected invoice already matched"}
	}

	score := g.resolver.scoreAgainst(extracted, row)
	return g.committer.CommitMatch(ctx, expectedID, fileID, extracted, score, extracted.Confidence, models.SourceManual)
}

// sanitize drops extracted fields that are junk rather than failing the
// whole document: an unnormalizable CUIT or out-of-range numbers simply
// become absent and the record flows to review on its remaining fields.
func sanitize(rec models.ExtractedRecord) models.ExtractedRecord {
	if rec.CUIT != "" {
		normalized, err := cuit.Normalize(rec.CUIT)
		if err != nil {
			rec.CUIT = ""
		} else {
			rec.CUIT = normalized
		}
	}
	if rec.InvoiceType != "" && !rec.InvoiceType.Valid() {
		rec.InvoiceType = ""
	}
	if rec.PointOfSale < 0 || rec.PointOfSale > maxPointOfSale {
		rec.PointOfSale = 0
	}
	if rec.InvoiceNumber < 0 || rec.InvoiceNumber > maxInvoiceNumber {
		rec.InvoiceNumber = 0
	}
	if rec.Confidence < 0 {
		rec.Confidence = 0
	}
	if rec.Confidence > 100 {
		rec.Confidence = 100
	}
	return rec
}
