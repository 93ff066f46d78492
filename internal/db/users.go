package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/facturaAR/invoice-admin-service/internal/models"
	"github.com/facturaAR/invoice-admin-service/internal/recon"
)

// GetUserByEmail looks up an admin account for login.
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := d.pool.QueryRow(ctx, `
		SELECT id, email, nombre, rol, password_hash, created_at
		FROM usuarios
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &recon.NotFoundError{Entity: "user", ID: email}
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return &u, nil
}
