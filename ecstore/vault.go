package ecstore

import (
	"sync"

	"github.com/offlinefirst/synccore/model"
)

// MemoryVault is an in-process implementation of model.SecretVault, used in
// tests and as the reference implementation spec section 6 leaves for a
// platform Keychain/Keystore binding to satisfy in production.
type MemoryVault struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryVault returns an empty in-memory secret vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{data: make(map[string][]byte)}
}

// Store saves data under tag, overwriting any existing entry.
func (v *MemoryVault) Store(tag string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := append([]byte(nil), data...)
	v.data[tag] = cp
	return nil
}

// Retrieve returns the bytes stored under tag, or a model.KeychainError
// wrapping model.NotFound if tag is absent.
func (v *MemoryVault) Retrieve(tag string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, ok := v.data[tag]
	if !ok {
		return nil, model.KeychainError(model.NotFound(Error.New("no secret stored under tag %q", tag)))
	}
	return append([]byte(nil), data...), nil
}

// Delete removes tag, if present.
func (v *MemoryVault) Delete(tag string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.data, tag)
	return nil
}

// DeleteAll removes every entry.
func (v *MemoryVault) DeleteAll() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = make(map[string][]byte)
	return nil
}

var _ model.SecretVault = (*MemoryVault)(nil)
