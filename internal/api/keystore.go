package api

import (
	"context"

	"github.com/gobeyondidentity/perimeter/pkg/auth"
	"github.com/gobeyondidentity/perimeter/pkg/store"
)

// KeyStore adapts the SQLite store to the authenticator's device-key lookup
// contract.
type KeyStore struct {
	store *store.Store
}

// NewKeyStore creates a device-key lookup backed by the given store.
func NewKeyStore(s *store.Store) *KeyStore {
	return &KeyStore{store: s}
}

// Get implements auth.DeviceKeyStore.
func (k *KeyStore) Get(ctx context.Context, deviceKeyID string) (*auth.DeviceKey, error) {
	key, err := k.store.Get(ctx, deviceKeyID)
	if err != nil {
		return nil, err
	}
	return &auth.DeviceKey{
		ID:          key.ID,
		AccountID:   key.AccountID,
		PublicKey:   key.PublicKey,
		Thumbprint:  key.Thumbprint,
		Fingerprint: key.Fingerprint,
		Active:      key.Active,
	}, nil
}

// TouchLastUsed implements auth.DeviceKeyStore.
func (k *KeyStore) TouchLastUsed(ctx context.Context, deviceKeyID string) error {
	return k.store.TouchLastUsed(ctx, deviceKeyID)
}

var _ auth.DeviceKeyStore = (*KeyStore)(nil)
