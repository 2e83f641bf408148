package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted shape of a user's exchange credentials. Both key
// fields hold sealed ciphertext, never plaintext.
type Record struct {
	UserID       uuid.UUID
	APIKeyCipher string
	SecretCipher string
	AllowedIPs   []string
	UpdatedAt    time.Time
}

type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
}

// Credentials is the decrypted view handed to callers that sign requests.
type Credentials struct {
	APIKey     string
	SecretKey  string
	AllowedIPs []string
	UpdatedAt  time.Time
}

// Update carries a partial credential change. Nil fields keep the stored
// value; a non-nil field replaces it.
type Update struct {
	APIKey     *string
	SecretKey  *string
	AllowedIPs *[]string
}

// Vault mediates between the credential store and the cipher. Plaintext
// secrets exist only inside a call, never in logs or persisted state.
type Vault struct {
	cipher *Cipher
	store  Store
}

func New(cipher *Cipher, store Store) *Vault {
	return &Vault{cipher: cipher, store: store}
}

func (v *Vault) Load(ctx context.Context, userID uuid.UUID) (*Credentials, error) {
	record, err := v.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	apiKey, err := v.cipher.Decrypt(record.APIKeyCipher)
	if err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}
	secretKey, err := v.cipher.Decrypt(record.SecretCipher)
	if err != nil {
		return nil, fmt.Errorf("open secret key: %w", err)
	}

	return &Credentials{
		APIKey:     apiKey,
		SecretKey:  secretKey,
		AllowedIPs: record.AllowedIPs,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}

// Save applies update on top of whatever is stored. A first-time save must
// carry both keys; afterwards either key may be rotated alone.
func (v *Vault) Save(ctx context.Context, userID uuid.UUID, update Update) error {
	record, err := v.store.Get(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoCredentials):
		if update.APIKey == nil || update.SecretKey == nil {
			return ErrNoCredentials
		}
		record = &Record{UserID: userID}
	default:
		return err
	}

	if update.APIKey != nil {
		sealed, err := v.cipher.Encrypt(*update.APIKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		record.APIKeyCipher = sealed
	}
	if update.SecretKey != nil {
		sealed, err := v.cipher.Encrypt(*update.SecretKey)
		if err != nil {
			return fmt.Errorf("seal secret key: %w", err)
		}
		record.SecretCipher = sealed
	}
	if update.AllowedIPs != nil {
		record.AllowedIPs = *update.AllowedIPs
	}
	record.UpdatedAt = time.Now().UTC()

	return v.store.Upsert(ctx, record)
}
