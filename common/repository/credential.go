package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/weftworks/weft/common/db"
	"github.com/weftworks/weft/common/models"
)

// CredentialRepository handles database operations for stored credentials.
// Field values are sealed before insert and unsealed only in Get, which
// feeds node execution input. Listings return metadata only, and no method
// here logs or returns plaintext in errors.
type CredentialRepository struct {
	db  *db.DB
	box *secretBox
}

// NewCredentialRepository creates a credential repository sealing under the
// given hex-encoded 32-byte master key.
func NewCredentialRepository(database *db.DB, masterKeyHex string) (*CredentialRepository, error) {
	box, err := newSecretBox(masterKeyHex)
	if err != nil {
		return nil, err
	}
	return &CredentialRepository{db: database, box: box}, nil
}

// Get loads and unseals one credential's field map. This is the engine's
// credential source for node execution.
func (r *CredentialRepository) Get(ctx context.Context, id int) (map[string]string, error) {
	query := `SELECT data FROM credential WHERE id = $1`

	var sealed []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %d: %w", id, err)
	}

	fields, err := r.box.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("credential %d: %w", id, err)
	}
	return fields, nil
}

// Create seals the field map and inserts a new credential, returning its id
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential, fields map[string]string) (int, error) {
	sealed, err := r.box.seal(fields)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO credential (name, type, data, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`

	var id int
	now := time.Now().UTC()
	err = r.db.QueryRow(ctx, query, cred.Name, cred.Type, sealed, cred.OwnerID, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create credential: %w", err)
	}

	cred.ID = id
	return id, nil
}

// Update reseals a credential with a replacement field map
func (r *CredentialRepository) Update(ctx context.Context, id int, fields map[string]string) error {
	sealed, err := r.box.seal(fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE credential
		SET data = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, sealed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}

	return nil
}

// Delete removes a credential
func (r *CredentialRepository) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM credential WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}

	return nil
}

// ListByOwner retrieves credential metadata for a user. Sealed data stays
// in the database; the Data field is left nil.
func (r *CredentialRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Credential, error) {
	query := `
		SELECT id, name, type, owner_id, created_at, updated_at
		FROM credential
		WHERE owner_id = $1
		ORDER BY name ASC
	`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred := &models.Credential{}
		err := rows.Scan(
			&cred.ID,
			&cred.Name,
			&cred.Type,
			&cred.OwnerID,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return creds, nil
}
