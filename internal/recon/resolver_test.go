package recon_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

// fakeLedger is an in-memory expected ledger. Rows are kept in insertion
// order, ids ascending, matching what the store guarantees.
type fakeLedger struct {
	rows []models.ExpectedInvoice
	err  error
}

func (f *fakeLedger) FindByKey(_ context.Context, key recon.NaturalKey) (*models.ExpectedInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.rows {
		row := &f.rows[i]
		if !row.Status.Open() {
			continue
		}
		if row.CUIT == key.CUIT && row.InvoiceType == key.InvoiceType &&
			row.PointOfSale == key.PointOfSale && row.InvoiceNumber == key.InvoiceNumber {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) ListOpen(_ context.Context) ([]models.ExpectedInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	var open []models.ExpectedInvoice
	for _, row := range f.rows {
		if row.Status.Open() {
			open = append(open, row)
		}
	}
	return open, nil
}

func (f *fakeLedger) GetByID(_ context.Context, id int64) (*models.ExpectedInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i], nil
		}
	}
	return nil, &recon.NotFoundError{Entity: "expected invoice", ID: fmt.Sprint(id)}
}

// fakeCommitter applies the commit side effects in memory with the same
// all-or-nothing guarantees the transactional store provides.
type fakeCommitter struct {
	ledger         *fakeLedger
	invoices       map[string]*models.Invoice // natural key -> invoice
	fileLinks      map[uuid.UUID]uuid.UUID    // file -> invoice
	lastConfidence int
}

func newFakeCommitter(ledger *fakeLedger) *fakeCommitter {
	return &fakeCommitter{
		ledger:    ledger,
		invoices:  make(map[string]*models.Invoice),
		fileLinks: make(map[uuid.UUID]uuid.UUID),
	}
}

func naturalKey(cuit string, t models.InvoiceType, pos, num int) string {
	return fmt.Sprintf("%s/%s/%d/%d", cuit, t, pos, num)
}

func (f *fakeCommitter) CommitMatch(ctx context.Context, expectedID int64, fileID uuid.UUID, _ models.ExtractedRecord, score, confidence int, source models.InvoiceSource) (*models.Invoice, error) {
	row, err := f.ledger.GetByID(ctx, expectedID)
	if err != nil {
		return nil, err
	}
	if !row.Status.Open() {
		return nil, &recon.ConflictError{Message: "expected invoice already matched"}
	}
	key := naturalKey(row.CUIT, row.InvoiceType, row.PointOfSale, row.InvoiceNumber)
	if _, exists := f.invoices[key]; exists {
		return nil, &recon.ConflictError{Message: "invoice already exists"}
	}

	inv := &models.Invoice{
		ID:            uuid.New(),
		EmitterCUIT:   row.CUIT,
		InvoiceType:   row.InvoiceType,
		PointOfSale:   row.PointOfSale,
		InvoiceNumber: row.InvoiceNumber,
		IssueDate:     row.IssueDate,
		Total:         row.Total,
		FileID:        &fileID,
		ExpectedID:    &row.ID,
		Source:        source,
		CreatedAt:     time.Now(),
	}
	f.invoices[key] = inv
	f.fileLinks[fileID] = inv.ID
	row.Status = models.StatusMatched
	row.MatchedFileID = &fileID
	row.MatchedInvoiceID = &inv.ID
	row.MatchScore = &score
	f.lastConfidence = confidence
	return inv, nil
}

func (f *fakeCommitter) CreateFromExtracted(_ context.Context, fileID uuid.UUID, rec models.ExtractedRecord) (*models.Invoice, error) {
	key := naturalKey(rec.CUIT, rec.InvoiceType, rec.PointOfSale, rec.InvoiceNumber)
	if _, exists := f.invoices[key]; exists {
		return nil, &recon.ConflictError{Message: "invoice already exists"}
	}
	inv := &models.Invoice{
		ID:            uuid.New(),
		EmitterCUIT:   rec.CUIT,
		InvoiceType:   rec.InvoiceType,
		PointOfSale:   rec.PointOfSale,
		InvoiceNumber: rec.InvoiceNumber,
		Total:         rec.Total,
		FileID:        &fileID,
		Source:        models.SourceAutoConfidence,
		CreatedAt:     time.Now(),
	}
	f.invoices[key] = inv
	f.fileLinks[fileID] = inv.ID
	f.lastConfidence = rec.Confidence
	return inv, nil
}

func pendingRow(id int64, cuit string, t models.InvoiceType, pos, num int) models.ExpectedInvoice {
	return models.ExpectedInvoice{
		ID:            id,
		CUIT:          cuit,
		InvoiceType:   t,
		PointOfSale:   pos,
		InvoiceNumber: num,
		Total:         decimal.NewFromInt(1000),
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
	}
}

func TestFindExactMatch(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
		pendingRow(2, "30536543129", models.TypeB, 1, 42),
	}}
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())
	ctx := context.Background()

	t.Run("hit with formatted cuit", func(t *testing.T) {
		got, err := resolver.FindExactMatch(ctx, recon.NaturalKey{
			CUIT:          "20-10200053-7",
			InvoiceType:   models.TypeA,
			PointOfSale:   2056,
			InvoiceNumber: 99152,
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.ID)

		// Idempotent: same key, no intervening writes, equal result.
		again, err := resolver.FindExactMatch(ctx, recon.NaturalKey{
			CUIT:          "20-10200053-7",
			InvoiceType:   models.TypeA,
			PointOfSale:   2056,
			InvoiceNumber: 99152,
		})
		require.NoError(t, err)
		assert.Equal(t, got, again)
	})

	t.Run("miss is not an error", func(t *testing.T) {
		got, err := resolver.FindExactMatch(ctx, recon.NaturalKey{
			CUIT:          "20102000537",
			InvoiceType:   models.TypeA,
			PointOfSale:   2056,
			InvoiceNumber: 99999,
		})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("consumed row is not returned", func(t *testing.T) {
		consumed := &fakeLedger{rows: []models.ExpectedInvoice{
			pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
		}}
		consumed.rows[0].Status = models.StatusMatched
		r := recon.NewResolver(consumed, recon.DefaultConfig())

		got, err := r.FindExactMatch(ctx, recon.NaturalKey{
			CUIT:          "20102000537",
			InvoiceType:   models.TypeA,
			PointOfSale:   2056,
			InvoiceNumber: 99152,
		})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("malformed key", func(t *testing.T) {
		bad := []recon.NaturalKey{
			{CUIT: "not-a-cuit", InvoiceType: models.TypeA, PointOfSale: 1, InvoiceNumber: 1},
			{CUIT: "20102000537", InvoiceType: "Z", PointOfSale: 1, InvoiceNumber: 1},
			{CUIT: "20102000537", InvoiceType: models.TypeA, PointOfSale: 0, InvoiceNumber: 1},
			{CUIT: "20102000537", InvoiceType: models.TypeA, PointOfSale: 100000, InvoiceNumber: 1},
			{CUIT: "20102000537", InvoiceType: models.TypeA, PointOfSale: 1, InvoiceNumber: 0},
		}
		for _, key := range bad {
			_, err := resolver.FindExactMatch(ctx, key)
			var verr *recon.ValidationError
			assert.ErrorAs(t, err, &verr, "key %+v", key)
		}
	})
}

func TestFindCandidates_ProximityScenario(t *testing.T) {
	// Expected row pending; query misses the number by 5 and omits CUIT.
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 2056, 99152),
	}}
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())

	got, err := resolver.FindCandidates(context.Background(), recon.Criteria{
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99157,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	// (100 + 100 + 50) / 3 fields compared.
	assert.Equal(t, 83, got[0].MatchScore)
	assert.GreaterOrEqual(t, got[0].MatchScore, 70)
	assert.LessOrEqual(t, got[0].MatchScore, 90)
	assert.Equal(t, []string{"invoiceType", "pointOfSale", "invoiceNumber~"}, got[0].MatchedFields)
}

func TestFindCandidates_FullMatchWithCUIT(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(7, "20102000537", models.TypeA, 2056, 99152),
	}}
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())

	got, err := resolver.FindCandidates(context.Background(), recon.Criteria{
		CUIT:          "20-10200053-7",
		InvoiceType:   models.TypeA,
		PointOfSale:   2056,
		InvoiceNumber: 99152,
		Limit:         5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100, got[0].MatchScore)
	assert.Equal(t, []string{"cuit", "invoiceType", "pointOfSale", "invoiceNumber"}, got[0].MatchedFields)
}

func TestFindCandidates_NumberProximityMonotonic(t *testing.T) {
	// Rows at increasing distance from the queried number; closer rows
	// must never score below farther ones, all else equal.
	var rows []models.ExpectedInvoice
	for i := 0; i <= 12; i++ {
		rows = append(rows, pendingRow(int64(i+1), "20102000537", models.TypeA, 1, 5000+i))
	}
	ledger := &fakeLedger{rows: rows}
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())

	got, err := resolver.FindCandidates(context.Background(), recon.Criteria{
		InvoiceNumber: 5000,
		Limit:         20,
	})
	require.NoError(t, err)
	require.Len(t, got, 13)

	byID := make(map[int64]int, len(got))
	for _, cand := range got {
		assert.GreaterOrEqual(t, cand.MatchScore, 0)
		assert.LessOrEqual(t, cand.MatchScore, 100)
		byID[cand.ExpectedID] = cand.MatchScore
	}
	for i := 1; i <= 12; i++ {
		assert.GreaterOrEqual(t, byID[int64(i)], byID[int64(i+1)],
			"distance %d should score >= distance %d", i-1, i)
	}

	// Sort invariant: scores never increase down the list.
	for i := 0; i+1 < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].MatchScore, got[i+1].MatchScore)
	}

	// Beyond the tolerance window the number contributes nothing.
	assert.Zero(t, byID[11], "distance 10 is outside the window")
	assert.Zero(t, byID[13], "distance 12 is outside the window")
}

func TestFindCandidates_TieBreakAndLimit(t *testing.T) {
	// Three rows with identical fields score equally; ties resolve by
	// ascending id and truncation keeps the top scores.
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(3, "20102000537", models.TypeA, 9, 100),
		pendingRow(1, "20102000537", models.TypeA, 9, 100),
		pendingRow(2, "20102000537", models.TypeA, 9, 100),
		pendingRow(4, "30536543129", models.TypeB, 8, 200),
	}}
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())

	got, err := resolver.FindCandidates(context.Background(), recon.Criteria{
		InvoiceType:   models.TypeA,
		PointOfSale:   9,
		InvoiceNumber: 100,
		Limit:         2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ExpectedID)
	assert.Equal(t, int64(2), got[1].ExpectedID)
	assert.Equal(t, 100, got[0].MatchScore)
	assert.Equal(t, 100, got[1].MatchScore)
}

func TestFindCandidates_ZeroCriteria(t *testing.T) {
	ledger := &fakeLedger{rows: []models.ExpectedInvoice{
		pendingRow(1, "20102000537", models.TypeA, 1, 10),
		pendingRow(2, "30536543129", models.TypeB, 2, 20),
		pendingRow(3, "27233141506", models.TypeC, 3, 30),
	}}
	ledger.rows[1].Status = models.StatusDiscrepancy
	resolver := recon.NewResolver(ledger, recon.DefaultConfig())

	got, err := resolver.FindCandidates(context.Background(), recon.Criteria{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, cand := range got {
		assert.Zero(t, cand.MatchScore)
		assert.Empty(t, cand.MatchedFields)
		assert.Equal(t, int64(i+1), cand.ExpectedID, "browse mode keeps id order")
	}

	limited, err := resolver.FindCandidates(context.Background(), recon.Criteria{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFindCandidates_MalformedCUIT(t *testing.T) {
	resolver := recon.NewResolver(&fakeLedger{}, recon.DefaultConfig())

	_, err := resolver.FindCandidates(context.Background(), recon.Criteria{CUIT: "12-34", Limit: 5})
	var verr *recon.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFindCandidates_StorageErrorPropagated(t *testing.T) {
	storageErr := &recon.StorageError{Op: "list expected", Err: errors.New("connection refused")}
	resolver := recon.NewResolver(&fakeLedger{err: storageErr}, recon.DefaultConfig())

	_, err := resolver.FindCandidates(context.Background(), recon.Criteria{Limit: 5})
	var serr *recon.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, storageErr, serr)
}
