// Package store provides SQLite-based persistence for registered device keys.
//
// Each account owns one or more device keys. A key is created at
// registration and deactivated on revocation; records are never physically
// deleted, so a revoked key's history stays auditable.
//
// # Usage
//
// Open a store with [Open] and close it when done:
//
//	db, err := store.Open("perimeter.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// # Thread Safety
//
// The store is safe for concurrent use. SQLite WAL mode enables readers and
// writers to operate simultaneously.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gobeyondidentity/perimeter/pkg/auth"
	"github.com/gobeyondidentity/perimeter/pkg/dpop"
	"github.com/gobeyondidentity/perimeter/pkg/fingerprint"
)

// DeviceKey is a registered device key record.
type DeviceKey struct {
	ID              string
	AccountID       string
	PublicKey       *dpop.JWK
	Thumbprint      string // derived from PublicKey, stored for lookup
	FingerprintHash string // stable hash of the registration fingerprint, empty if none
	Fingerprint     *fingerprint.Fingerprint
	CreatedAt       time.Time
	LastUsed        *time.Time
	Active          bool
}

// Store provides device-key registry operations.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not exist.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS device_keys (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			public_key_jwk   TEXT NOT NULL,
			thumbprint       TEXT NOT NULL,
			fingerprint_hash TEXT NOT NULL DEFAULT '',
			fingerprint_json TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMP NOT NULL,
			last_used        TIMESTAMP,
			active           INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_device_keys_account ON device_keys(account_id);
		CREATE INDEX IF NOT EXISTS idx_device_keys_thumbprint ON device_keys(thumbprint);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register creates a device key record for an account. The thumbprint is
// derived from the key material here, never taken from the caller, so the
// stored value is always a pure function of the stored key.
func (s *Store) Register(ctx context.Context, accountID string, publicKey *dpop.JWK, fp *fingerprint.Fingerprint) (*DeviceKey, error) {
	// Unusable key material is rejected here, not at first verification.
	if _, err := dpop.JWKToPublicKey(publicKey); err != nil {
		return nil, err
	}
	thumbprint, err := dpop.Thumbprint(publicKey)
	if err != nil {
		return nil, err
	}

	jwkJSON, err := json.Marshal(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	fpHash := ""
	fpJSON := ""
	if fp != nil {
		fpHash = fingerprint.Hash(fp)
		b, err := json.Marshal(fp)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fingerprint: %w", err)
		}
		fpJSON = string(b)
	}

	key := &DeviceKey{
		ID:              "dk_" + uuid.New().String(),
		AccountID:       accountID,
		PublicKey:       publicKey,
		Thumbprint:      thumbprint,
		FingerprintHash: fpHash,
		Fingerprint:     fp,
		CreatedAt:       time.Now().UTC(),
		Active:          true,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_keys (id, account_id, public_key_jwk, thumbprint, fingerprint_hash, fingerprint_json, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		key.ID, key.AccountID, string(jwkJSON), key.Thumbprint, key.FingerprintHash, fpJSON, key.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert device key: %w", err)
	}

	return key, nil
}

// Get retrieves a device key by id. Returns auth.ErrDeviceKeyNotFound for
// unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*DeviceKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, public_key_jwk, thumbprint, fingerprint_hash, fingerprint_json, created_at, last_used, active
		FROM device_keys WHERE id = ?`, id)
	return scanDeviceKey(row)
}

// GetByThumbprint retrieves a device key by its thumbprint.
func (s *Store) GetByThumbprint(ctx context.Context, thumbprint string) (*DeviceKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, public_key_jwk, thumbprint, fingerprint_hash, fingerprint_json, created_at, last_used, active
		FROM device_keys WHERE thumbprint = ?`, thumbprint)
	return scanDeviceKey(row)
}

// ListByAccount returns all device keys for an account, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*DeviceKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, public_key_jwk, thumbprint, fingerprint_hash, fingerprint_json, created_at, last_used, active
		FROM device_keys WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device keys: %w", err)
	}
	defer rows.Close()

	var keys []*DeviceKey
	for rows.Next() {
		key, err := scanDeviceKeyRows(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Deactivate marks a device key inactive. The record is retained.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE device_keys SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate device key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrDeviceKeyNotFound
	}
	return nil
}

// TouchLastUsed updates the key's last-used timestamp.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE device_keys SET last_used = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch device key: %w", err)
	}
	return nil
}

// SetFingerprint replaces the stored registration fingerprint for a key.
func (s *Store) SetFingerprint(ctx context.Context, id string, fp *fingerprint.Fingerprint) error {
	b, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE device_keys SET fingerprint_hash = ?, fingerprint_json = ? WHERE id = ?`,
		fingerprint.Hash(fp), string(b), id)
	if err != nil {
		return fmt.Errorf("failed to update fingerprint: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for the shared scan path.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeviceKey(row *sql.Row) (*DeviceKey, error) {
	return scanKey(row)
}

func scanDeviceKeyRows(rows *sql.Rows) (*DeviceKey, error) {
	return scanKey(rows)
}

func scanKey(sc scanner) (*DeviceKey, error) {
	var key DeviceKey
	var jwkJSON, fpJSON string
	var lastUsed sql.NullTime
	var active int

	err := sc.Scan(&key.ID, &key.AccountID, &jwkJSON, &key.Thumbprint,
		&key.FingerprintHash, &fpJSON, &key.CreatedAt, &lastUsed, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrDeviceKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device key: %w", err)
	}

	var jwk dpop.JWK
	if err := json.Unmarshal([]byte(jwkJSON), &jwk); err != nil {
		return nil, fmt.Errorf("stored public key is corrupt: %w", err)
	}
	key.PublicKey = &jwk

	if fpJSON != "" {
		var fp fingerprint.Fingerprint
		if err := json.Unmarshal([]byte(fpJSON), &fp); err != nil {
			return nil, fmt.Errorf("stored fingerprint is corrupt: %w", err)
		}
		key.Fingerprint = &fp
	}

	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsed = &t
	}
	key.Active = active != 0

	return &key, nil
}
