package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/GeniusSecret1117/zeroloss-backend/internal/vault"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the sealed credential record for userID, or
// vault.ErrNoCredentials when none has been saved.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*vault.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, api_key_cipher, secret_key_cipher, allowed_ips, updated_at
		FROM exchange_credentials
		WHERE user_id = $1
	`, userID)

	var record vault.Record
	var ips string
	if err := row.Scan(&record.UserID, &record.APIKeyCipher, &record.SecretCipher, &ips, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrNoCredentials
		}
		return nil, err
	}
	record.AllowedIPs = splitIPs(ips)
	return &record, nil
}

func (s *Store) Upsert(ctx context.Context, record *vault.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchange_credentials (user_id, api_key_cipher, secret_key_cipher, allowed_ips, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			api_key_cipher = EXCLUDED.api_key_cipher,
			secret_key_cipher = EXCLUDED.secret_key_cipher,
			allowed_ips = EXCLUDED.allowed_ips,
			updated_at = now()
	`, record.UserID, record.APIKeyCipher, record.SecretCipher, joinIPs(record.AllowedIPs))
	return err
}

// Allowed IPs are stored comma-joined in a single text column.
func joinIPs(ips []string) string {
	trimmed := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			trimmed = append(trimmed, ip)
		}
	}
	return strings.Join(trimmed, ",")
}

func splitIPs(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	ips := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			ips = append(ips, part)
		}
	}
	return ips
}
