package models

import "time"

// Credential is a stored credential: a named map of secret fields sealed
// under the service master key. Data holds the AES-GCM nonce and ciphertext;
// plaintext field values exist only inside the repository layer and the
// node execution input built from it.
// Maps to: credential table
type Credential struct {
	// Integer id referenced by node config as credential_id
	ID int `db:"id" json:"id"`

	// Display name shown in listings
	Name string `db:"name" json:"name"`

	// Credential kind, e.g. "smtp", "api_key", "basic_auth"
	Type string `db:"type" json:"type"`

	// Sealed field map. Never serialized to API responses.
	Data []byte `db:"data" json:"-"`

	// Audit fields
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
