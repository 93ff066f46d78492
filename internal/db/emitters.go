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

// CreateEmitter registers an invoice issuer. CUIT is unique per emitter.
func (d *DB) CreateEmitter(ctx context.Context, e *models.Emitter) error {
	e.ID = uuid.New()
	err := d.pool.QueryRow(ctx, `
		INSERT INTO emisores (id, cuit, nombre) VALUES ($1, $2, $3)
		RETURNING created_at
	`, e.ID, e.CUIT, e.Name).Scan(&e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &recon.ConflictError{Message: fmt.Sprintf("emitter with cuit %s already exists", e.CUIT)}
		}
		return storageErr("create emitter", err)
	}
	return nil
}

// GetEmitter retrieves one emitter.
func (d *DB) GetEmitter(ctx context.Context, id uuid.UUID) (*models.Emitter, error) {
	var e models.Emitter
	err := d.pool.QueryRow(ctx, `
		SELECT id, cuit, nombre, created_at FROM emisores WHERE id = $1
	`, id).Scan(&e.ID, &e.CUIT, &e.Name, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &recon.NotFoundError{Entity: "emitter", ID: id.String()}
	}
	if err != nil {
		return nil, storageErr("get emitter", err)
	}
	return &e, nil
}

// ListEmitters returns every registered emitter, alphabetically.
func (d *DB) ListEmitters(ctx context.Context) ([]models.Emitter, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, cuit, nombre, created_at FROM emisores ORDER BY nombre`)
	if err != nil {
		return nil, storageErr("list emitters", err)
	}
	defer rows.Close()

	var result []models.Emitter
	for rows.Next() {
		var e models.Emitter
		if err := rows.Scan(&e.ID, &e.CUIT, &e.Name, &e.CreatedAt); err != nil {
			return nil, storageErr("scan emitter", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// EmitterRefs counts, across three independent sources, everything still
// referencing an emitter's CUIT: finalized invoices, open expected
// invoices, and uploaded-but-unlinked files whose extracted CUIT matches.
func (d *DB) EmitterRefs(ctx context.Context, id uuid.UUID) (*models.EmitterRefs, error) {
	emitter, err := d.GetEmitter(ctx, id)
	if err != nil {
		return nil, err
	}

	var refs models.EmitterRefs
	err = d.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM facturas WHERE emisor_id = $1 OR cuit_emisor = $2),
			(SELECT COUNT(*) FROM facturas_esperadas WHERE cuit = $2 AND estado <> 'matched'),
			(SELECT COUNT(*) FROM archivos WHERE factura_id IS NULL AND cuit_extraido = $2)
	`, id, emitter.CUIT).Scan(&refs.Invoices, &refs.Expected, &refs.Files)
	if err != nil {
		return nil, storageErr("count emitter refs", err)
	}
	return &refs, nil
}

// DeleteEmitter removes an emitter only when nothing references it. The
// conflict carries the per-source breakdown so the caller can show what
// is blocking the deletion.
func (d *DB) DeleteEmitter(ctx context.Context, id uuid.UUID) (*models.EmitterRefs, error) {
	refs, err := d.EmitterRefs(ctx, id)
	if err != nil {
		return nil, err
	}
	if refs.Total() > 0 {
		return refs, &recon.ConflictError{
			Message: fmt.Sprintf("emitter is referenced by %d invoices, %d expected invoices and %d files",
				refs.Invoices, refs.Expected, refs.Files),
		}
	}

	tag, err := d.pool.Exec(ctx, `DELETE FROM emisores WHERE id = $1`, id)
	if err != nil {
		return nil, storageErr("delete emitter", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &recon.NotFoundError{Entity: "emitter", ID: id.String()}
	}
	return refs, nil
}
