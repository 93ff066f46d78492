package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

// SaveFile records a freshly uploaded document in processing state.
func (d *DB) SaveFile(ctx context.Context, f *models.UploadedFile) error {
	err := d.pool.QueryRow(ctx, `
		INSERT INTO archivos (id, nombre, object_name, content_type, size_bytes, estado)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, f.ID, f.Name, f.ObjectName, f.ContentType, f.SizeBytes, f.Status).Scan(&f.CreatedAt)
	if err != nil {
		return storageErr("save file", err)
	}
	return nil
}

// GetFile retrieves one uploaded-document record.
func (d *DB) GetFile(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	var f models.UploadedFile
	err := d.pool.QueryRow(ctx, `
		SELECT id, nombre, object_name, content_type, size_bytes, estado,
		       COALESCE(cuit_extraido, ''), COALESCE(confianza, 0), factura_id, created_at
		FROM archivos
		WHERE id = $1
	`, id).Scan(
		&f.ID, &f.Name, &f.ObjectName, &f.ContentType, &f.SizeBytes, &f.Status,
		&f.ExtractedCUIT, &f.Confidence, &f.InvoiceID, &f.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &recon.NotFoundError{Entity: "file", ID: id.String()}
	}
	if err != nil {
		return nil, storageErr("get file", err)
	}
	return &f, nil
}

// UpdateFileExtraction records what the extractor read from a document
// and the resulting pipeline state.
func (d *DB) UpdateFileExtraction(ctx context.Context, id uuid.UUID, status models.FileStatus, extractedCUIT string, confidence int) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE archivos SET estado = $2, cuit_extraido = $3, confianza = $4 WHERE id = $1
	`, id, status, extractedCUIT, confidence)
	if err != nil {
		return storageErr("update file extraction", err)
	}
	if tag.RowsAffected() == 0 {
		return &recon.NotFoundError{Entity: "file", ID: id.String()}
	}
	return nil
}

// ListFiles returns uploaded documents, newest first, optionally filtered
// by state.
func (d *DB) ListFiles(ctx context.Context, status models.FileStatus, limit int) ([]models.UploadedFile, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.pool.Query(ctx, `
		SELECT id, nombre, object_name, content_type, size_bytes, estado,
		       COALESCE(cuit_extraido, ''), COALESCE(confianza, 0), factura_id, created_at
		FROM archivos
		WHERE ($1 = '' OR estado = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, storageErr("list files", err)
	}
	defer rows.Close()

	var result []models.UploadedFile
	for rows.Next() {
		var f models.UploadedFile
		if err := rows.Scan(
			&f.ID, &f.Name, &f.ObjectName, &f.ContentType, &f.SizeBytes, &f.Status,
			&f.ExtractedCUIT, &f.Confidence, &f.InvoiceID, &f.CreatedAt,
		); err != nil {
			return nil, storageErr("scan file", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// DeleteFile removes an uploaded-document record. Files linked to an
// invoice are protected; delete the invoice first.
func (d *DB) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM archivos WHERE id = $1 AND factura_id IS NULL`, id)
	if err != nil {
		return storageErr("delete file", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := d.GetFile(ctx, id); err != nil {
			return err
		}
		return &recon.ConflictError{Message: "file is linked to an invoice"}
	}
	return nil
}
