package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

const invoiceColumns = `id, cuit_emisor, emisor_id, tipo_comprobante, punto_venta, numero,
	       fecha_emision, importe_total, COALESCE(categoria, ''), archivo_id, esperada_id,
	       origen, created_at`

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.ID, &inv.EmitterCUIT, &inv.EmitterID, &inv.InvoiceType, &inv.PointOfSale, &inv.InvoiceNumber,
		&inv.IssueDate, &inv.Total, &inv.Category, &inv.FileID, &inv.ExpectedID,
		&inv.Source, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice retrieves a single finalized invoice.
func (d *DB) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM facturas WHERE id = $1`, invoiceColumns)

	inv, err := scanInvoice(d.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &recon.NotFoundError{Entity: "invoice", ID: id.String()}
	}
	if err != nil {
		return nil, storageErr("get invoice", err)
	}
	return inv, nil
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	EmitterCUIT string
	Category    string
	Limit       int
}

// ListInvoices returns finalized invoices, newest first.
func (d *DB) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM facturas
		WHERE ($1 = '' OR cuit_emisor = $1)
		  AND ($2 = '' OR categoria = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, invoiceColumns)

	rows, err := d.pool.Query(ctx, query, filter.EmitterCUIT, filter.Category, filter.Limit)
	if err != nil {
		return nil, storageErr("list invoices", err)
	}
	defer rows.Close()

	var result []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, storageErr("scan invoice", err)
		}
		result = append(result, *inv)
	}
	return result, rows.Err()
}

// UpdateInvoiceCategory re-categorizes an invoice.
func (d *DB) UpdateInvoiceCategory(ctx context.Context, id uuid.UUID, category string) error {
	tag, err := d.pool.Exec(ctx, `UPDATE facturas SET categoria = $2 WHERE id = $1`, id, category)
	if err != nil {
		return storageErr("update invoice category", err)
	}
	if tag.RowsAffected() == 0 {
		return &recon.NotFoundError{Entity: "invoice", ID: id.String()}
	}
	return nil
}

// ReassignInvoiceEmitter points an invoice at a different emitter record.
func (d *DB) ReassignInvoiceEmitter(ctx context.Context, id, emitterID uuid.UUID) error {
	var cuit string
	err := d.pool.QueryRow(ctx, `SELECT cuit FROM emisores WHERE id = $1`, emitterID).Scan(&cuit)
	if errors.Is(err, pgx.ErrNoRows) {
		return &recon.NotFoundError{Entity: "emitter", ID: emitterID.String()}
	}
	if err != nil {
		return storageErr("get emitter", err)
	}

	tag, err := d.pool.Exec(ctx, `
		UPDATE facturas SET emisor_id = $2, cuit_emisor = $3 WHERE id = $1
	`, id, emitterID, cuit)
	if err != nil {
		if isUniqueViolation(err) {
			return &recon.ConflictError{Message: "an invoice with this natural key already exists"}
		}
		return storageErr("reassign invoice emitter", err)
	}
	if tag.RowsAffected() == 0 {
		return &recon.NotFoundError{Entity: "invoice", ID: id.String()}
	}
	return nil
}

// DeleteInvoice removes a finalized invoice and undoes its linkage: the
// source file returns to pending review and a consumed expected row, if
// any, reopens as pending.
func (d *DB) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin delete invoice", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM facturas WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return &recon.NotFoundError{Entity: "invoice", ID: id.String()}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE archivos SET factura_id = NULL, estado = 'pendiente_revision' WHERE factura_id = $1
	`, id); err != nil {
		return storageErr("unlink file", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE facturas_esperadas
		SET estado = 'pendiente', matched_file_id = NULL, matched_invoice_id = NULL, match_score = NULL
		WHERE matched_invoice_id = $1
	`, id); err != nil {
		return storageErr("reopen expected", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit delete invoice", err)
	}
	return nil
}
