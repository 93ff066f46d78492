package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

// CommitMatch consumes an expected invoice: it creates the finalized
// invoice from the ledger row's authoritative fields, links the source
// file, and transitions the row to matched — all in one transaction, so
// a duplicate-key failure leaves no partial state behind.
//
// The status transition is conditioned on the row not being matched yet,
// which is what makes concurrent confirmations of the same row safe: the
// loser of the race sees zero affected rows and gets a ConflictError.
func (d *DB) CommitMatch(ctx context.Context, expectedID int64, fileID uuid.UUID, extracted models.ExtractedRecord, score, confidence int, source models.InvoiceSource) (*models.Invoice, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin commit", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM facturas_esperadas WHERE id = $1 FOR UPDATE`, expectedColumns)
	expected, err := scanExpected(tx.QueryRow(ctx, query, expectedID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &recon.NotFoundError{Entity: "expected invoice", ID: fmt.Sprint(expectedID)}
	}
	if err != nil {
		return nil, storageErr("lock expected", err)
	}
	if !expected.Status.Open() {
		return nil, &recon.ConflictError{Message: "expected invoice already matched"}
	}

	inv := &models.Invoice{
		ID:            uuid.New(),
		EmitterCUIT:   expected.CUIT,
		InvoiceType:   expected.InvoiceType,
		PointOfSale:   expected.PointOfSale,
		InvoiceNumber: expected.InvoiceNumber,
		IssueDate:     expected.IssueDate,
		Total:         expected.Total,
		FileID:        &fileID,
		ExpectedID:    &expected.ID,
		Source:        source,
	}
	// Ledger fields win; extraction only fills what the export lacked.
	if inv.IssueDate == nil {
		inv.IssueDate = parseISODate(extracted.IssueDate)
	}
	if inv.Total.IsZero() {
		inv.Total = extracted.Total
	}

	if err := insertInvoiceTx(ctx, tx, inv); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE archivos SET factura_id = $2, estado = 'procesado', confianza = $3 WHERE id = $1
	`, fileID, inv.ID, confidence); err != nil {
		return nil, storageErr("link file", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE facturas_esperadas
		SET estado = 'matched', matched_file_id = $2, matched_invoice_id = $3, match_score = $4
		WHERE id = $1 AND estado <> 'matched'
	`, expectedID, fileID, inv.ID, score)
	if err != nil {
		return nil, storageErr("mark expected matched", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &recon.ConflictError{Message: "expected invoice already matched"}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit match", err)
	}
	inv.CreatedAt = time.Now()
	return inv, nil
}

// CreateFromExtracted creates a finalized invoice straight from the
// extracted fields and links the file, with no expected-ledger row
// involved.
func (d *DB) CreateFromExtracted(ctx context.Context, fileID uuid.UUID, rec models.ExtractedRecord) (*models.Invoice, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin create", err)
	}
	defer tx.Rollback(ctx)

	inv := &models.Invoice{
		ID:            uuid.New(),
		EmitterCUIT:   rec.CUIT,
		InvoiceType:   rec.InvoiceType,
		PointOfSale:   rec.PointOfSale,
		InvoiceNumber: rec.InvoiceNumber,
		IssueDate:     parseISODate(rec.IssueDate),
		Total:         rec.Total,
		FileID:        &fileID,
		Source:        models.SourceAutoConfidence,
	}

	if err := insertInvoiceTx(ctx, tx, inv); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE archivos SET factura_id = $2, estado = 'procesado', confianza = $3 WHERE id = $1
	`, fileID, inv.ID, rec.Confidence); err != nil {
		return nil, storageErr("link file", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit create", err)
	}
	inv.CreatedAt = time.Now()
	return inv, nil
}

// insertInvoiceTx inserts the invoice row, resolving the emitter by CUIT
// when one is registered. A duplicate natural key is a conflict, never an
// overwrite.
func insertInvoiceTx(ctx context.Context, tx pgx.Tx, inv *models.Invoice) error {
	err := tx.QueryRow(ctx, `SELECT id FROM emisores WHERE cuit = $1`, inv.EmitterCUIT).Scan(&inv.EmitterID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return storageErr("resolve emitter", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO facturas
			(id, cuit_emisor, emisor_id, tipo_comprobante, punto_venta, numero,
			 fecha_emision, importe_total, archivo_id, esperada_id, origen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inv.ID, inv.EmitterCUIT, inv.EmitterID, inv.InvoiceType, inv.PointOfSale, inv.InvoiceNumber,
		inv.IssueDate, inv.Total, inv.FileID, inv.ExpectedID, inv.Source)
	if err != nil {
		if isUniqueViolation(err) {
			return &recon.ConflictError{Message: "an invoice with this natural key already exists"}
		}
		return storageErr("insert invoice", err)
	}
	return nil
}

func parseISODate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
