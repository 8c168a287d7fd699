package repository

import (
	"context"
	"errors"

	"payments_core/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository reads gateway secrets on every call so rotation takes effect immediately.
type CredentialRepository struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Credential(ctx context.Context, slug, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx,
		`SELECT value FROM gateway_credentials WHERE gateway_slug = $1 AND key = $2`,
		slug, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return value, err
}

// Set upserts a credential.
func (r *CredentialRepository) Set(ctx context.Context, slug, key, value string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO gateway_credentials (gateway_slug, key, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (gateway_slug, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		slug, key, value,
	)
	return err
}
