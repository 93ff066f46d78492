package recon_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

func newGate(ledger *fakeLedger) (*recon.Gate, *fakeCommitter) {
	committer := newFakeCommitter(ledger)
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())
	return recon.NewGate(resolver, committer, recon.DefaultConfig()), committer
}

func TestGate_ExactMatchAutoLinks(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
	}}
	ledger.rows[0].Total = decimal.RequireFromString("15430.50")
	gate, committer := newGate(ledger)
	fileID := uuid.New()

	rec := models.ExtractedRecord{
		CUIT:          "20-10200053-7",
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99152,
		Total:         decimal.RequireFromString("15431.00"), // noisy OCR total
		Confidence:    40,                                    // ignored: ledger wins
	}

	res, err := gate.Process(context.Background(), fileID, rec)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeAutoLinked, res.Outcome)
	require.NotNil(t, res.Invoice)

	// Invoice fields come from the ledger row, not the extraction.
	assert.True(t, res.Invoice.Total.Equal(decimal.RequireFromString("15430.50")))
	assert.Equal(t, models.SourceAutoExact, res.Invoice.Source)

	// Ledger-grade confidence is recorded regardless of the extractor's.
	assert.Equal(t, 95, committer.lastConfidence)

	// The row is consumed.
	assert.Equal(t, models.StatusMatched, ledger.rows[0].Status)
	require.NotNil(t, ledger.rows[0].MatchScore)
	assert.Equal(t, 100, *ledger.rows[0].MatchScore)
	assert.Equal(t, fileID, *ledger.rows[0].MatchedFileID)
}

func TestGate_HighConfidenceCreatesWithoutLedger(t *testing.T) {
	gate, committer := newGate(&fakeLedger{})
	fileID := uuid.New()

	rec := models.ExtractedRecord{
		CUIT:          "20102000537",
		InvoiceType:   models.TypeB,
		PointOfSale:   3,
		InvoiceNumber: 777,
		Total:         decimal.NewFromInt(980),
		Confidence:    85,
	}

	res, err := gate.Process(context.Background(), fileID, rec)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeAutoCreated, res.Outcome)
	require.NotNil(t, res.Invoice)
	assert.Equal(t, models.SourceAutoConfidence, res.Invoice.Source)
	assert.Nil(t, res.Invoice.ExpectedID)
	assert.Equal(t, 85, committer.lastConfidence)
}

func TestGate_LowConfidenceGoesToReview(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
		pendingRow(2, "30536543129", models.TypeB, 1, 50),
	}}
	gate, committer := newGate(ledger)

	rec := models.ExtractedRecord{
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99157,
		Confidence:    55,
	}

	res, err := gate.Process(context.Background(), uuid.New(), rec)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomePendingReview, res.Outcome)
	assert.Nil(t, res.Invoice)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, int64(1), res.Candidates[0].ExpectedID)
	assert.Contains(t, res.Candidates[0].MatchedFields, "invoiceNumber~")

	// Nothing was committed.
	assert.Empty(t, committer.invoices)
	assert.Equal(t, models.StatusPending, ledger.rows[0].Status)
}

func TestGate_IncompleteKeyNeverAutoCreates(t *testing.T) {
	// High confidence but no invoice number: there is no natural key to
	// create under, so the document must go to review.
	gate, committer := newGate(&fakeLedger{})

	rec := models.ExtractedRecord{
		CUIT:        "20102000537",
		InvoiceType: models.TypeA,
		PointOfSale: 4,
		Confidence:  92,
	}

	res, err := gate.Process(context.Background(), uuid.New(), rec)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomePendingReview, res.Outcome)
	assert.Empty(t, committer.invoices)
}

func TestGate_EmptyExtractionFails(t *testing.T) {
	gate, committer := newGate(&fakeLedger{})

	res, err := gate.Process(context.Background(), uuid.New(), models.ExtractedRecord{Confidence: 10})
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeFailed, res.Outcome)
	assert.Nil(t, res.Invoice)
	assert.Empty(t, res.Candidates)
	assert.Empty(t, committer.invoices)
}

func TestGate_JunkFieldsAreDropped(t *testing.T) {
	// An unreadable CUIT must not fail the document; it is treated as
	// absent and the record still reaches review on its other fields.
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
	}}
	gate, _ := newGate(ledger)

	rec := models.ExtractedRecord{
		CUIT:          "2O-1020OO53-7", // OCR confused O and 0
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99152,
		Confidence:    60,
	}

	res, err := gate.Process(context.Background(), uuid.New(), rec)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomePendingReview, res.Outcome)
	require.NotEmpty(t, res.Candidates)
	assert.NotContains(t, res.Candidates[0].MatchedFields, "cuit")
}

func TestGate_ConfirmConsumesOnce(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
	}}
	gate, committer := newGate(ledger)

	rec := models.ExtractedRecord{
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99157,
		Confidence:    55,
	}

	inv, err := gate.Confirm(context.Background(), 1, uuid.New(), rec)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, models.SourceManual, inv.Source)
	assert.Equal(t, models.StatusMatched, ledger.rows[0].Status)
	require.NotNil(t, ledger.rows[0].MatchScore)
	assert.Equal(t, 83, *ledger.rows[0].MatchScore, "score is recomputed server-side")

	// At-most-one consumption: a second confirmation must conflict and
	// create nothing new.
	before := len(committer.invoices)
	_, err = gate.Confirm(context.Background(), 1, uuid.New(), rec)
	var cerr *recon.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, committer.invoices, before)
}

func TestGate_ConfirmDuplicateInvoiceLeavesNoPartialState(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
	}}
	gate, committer := newGate(ledger)

	// An invoice with the same natural key already exists.
	key := naturalKey("20102000537", models.TypeA, 2056, 99152)
	committer.invoices[key] = &models.Invoice{ID: uuid.New()}

	fileID := uuid.New()
	_, err := gate.Confirm(context.Background(), 1, fileID, models.ExtractedRecord{
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99152,
	})

	var cerr *recon.ConflictError
	require.ErrorAs(t, err, &cerr)

	// No partial commit: status unchanged, no file link recorded.
	assert.Equal(t, models.StatusPending, ledger.rows[0].Status)
	assert.Nil(t, ledger.rows[0].MatchedFileID)
	_, linked := committer.fileLinks[fileID]
	assert.False(t, linked)
}

func TestGate_ConfirmMissingExpected(t *testing.T) {
	gate, _ := newGate(&fakeLedger{})

	_, err := gate.Confirm(context.Background(), 404, uuid.New(), models.ExtractedRecord{})
	var nerr *recon.NotFoundError
	assert.ErrorAs(t, err, &nerr)
}
