package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

const expectedColumns = `id, cuit, tipo_comprobante, punto_venta, numero, fecha_emision,
	       COALESCE(denominacion_emisor, ''), importe_total, estado,
	       matched_file_id, matched_invoice_id, match_score, created_at`

func scanExpected(row pgx.Row) (*models.ExpectedInvoice, error) {
	var e models.ExpectedInvoice
	err := row.Scan(
		&e.ID, &e.CUIT, &e.InvoiceType, &e.PointOfSale, &e.InvoiceNumber, &e.IssueDate,
		&e.EmitterName, &e.Total, &e.Status,
		&e.MatchedFileID, &e.MatchedInvoiceID, &e.MatchScore, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindByKey returns the open expected invoice with exactly this natural
// key, or nil when none exists. The key is unique, so at most one row
// can come back.
func (d *DB) FindByKey(ctx context.Context, key recon.NaturalKey) (*models.ExpectedInvoice, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM facturas_esperadas
		WHERE cuit = $1 AND tipo_comprobante = $2 AND punto_venta = $3 AND numero = $4
		  AND estado <> 'matched'
	`, expectedColumns)

	e, err := scanExpected(d.pool.QueryRow(ctx, query, key.CUIT, key.InvoiceType, key.PointOfSale, key.InvoiceNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find expected by key", err)
	}
	return e, nil
}

// ListOpen returns every not-yet-consumed expected invoice in id order,
// which is the set the candidate search scores against.
func (d *DB) ListOpen(ctx context.Context) ([]models.ExpectedInvoice, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM facturas_esperadas
		WHERE estado <> 'matched'
		ORDER BY id
	`, expectedColumns)

	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, storageErr("list open expected", err)
	}
	defer rows.Close()

	var result []models.ExpectedInvoice
	for rows.Next() {
		e, err := scanExpected(rows)
		if err != nil {
			return nil, storageErr("scan expected", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list open expected", err)
	}
	return result, nil
}

// GetByID returns the row regardless of status.
func (d *DB) GetByID(ctx context.Context, id int64) (*models.ExpectedInvoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM facturas_esperadas WHERE id = $1`, expectedColumns)

	e, err := scanExpected(d.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &recon.NotFoundError{Entity: "expected invoice", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, storageErr("get expected", err)
	}
	return e, nil
}

// ListExpectedByStatus returns rows in one lifecycle state, newest first.
func (d *DB) ListExpectedByStatus(ctx context.Context, status models.ExpectedStatus, limit int) ([]models.ExpectedInvoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM facturas_esperadas
		WHERE estado = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, expectedColumns)

	rows, err := d.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, storageErr("list expected by status", err)
	}
	defer rows.Close()

	var result []models.ExpectedInvoice
	for rows.Next() {
		e, err := scanExpected(rows)
		if err != nil {
			return nil, storageErr("scan expected", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// UpdateExpectedStatus moves a row between open states (pending,
// discrepancy, manual, ignored). The matched state is reserved for the
// transactional commit and rejected here; consumed rows are immutable.
func (d *DB) UpdateExpectedStatus(ctx context.Context, id int64, status models.ExpectedStatus) error {
	if status == models.StatusMatched {
		return &recon.ValidationError{Field: "estado", Message: "matched is set by confirming a document, not directly"}
	}

	tag, err := d.pool.Exec(ctx, `
		UPDATE facturas_esperadas
		SET estado = $2
		WHERE id = $1 AND estado <> 'matched'
	`, id, status)
	if err != nil {
		return storageErr("update expected status", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row does not exist or it is already consumed.
		if _, err := d.GetByID(ctx, id); err != nil {
			return err
		}
		return &recon.ConflictError{Message: "expected invoice already matched"}
	}
	return nil
}

// InsertExpectedBatch bulk-inserts imported rows, skipping natural keys
// already in the ledger. Returns how many rows were actually inserted.
func (d *DB) InsertExpectedBatch(ctx context.Context, rows []models.ExpectedInvoice) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(`
			INSERT INTO facturas_esperadas
				(cuit, tipo_comprobante, punto_venta, numero, fecha_emision,
				 denominacion_emisor, importe_total, estado)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pendiente')
			ON CONFLICT (cuit, tipo_comprobante, punto_venta, numero) DO NOTHING
		`, e.CUIT, e.InvoiceType, e.PointOfSale, e.InvoiceNumber, e.IssueDate, e.EmitterName, e.Total)
	}

	results := d.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			return inserted, storageErr("insert expected batch", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
