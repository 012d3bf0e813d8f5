// SPDX-License-Identifier: MPL-2.0

// Package secrets implements the Secrets Subsystem (spec.md §4.10/C12):
// an in-memory encrypted credential store keyed per handler instance
// (never a module-level global), a masking filter, and password
// generation/validation utilities.
package secrets

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"xec/xecerr"
)

const keySize = 32 // secretbox.Overhead's companion key size
const nonceSize = 24

// Store is a per-instance encrypted credential store. It is never a
// package-level singleton: each caller owning secrets constructs its own
// Store and disposes it explicitly, so secret lifetime is always scoped
// to the component that needs it.
type Store struct {
	mu      sync.Mutex
	key     [keySize]byte
	entries map[string]*entry
	disposed bool
}

type entry struct {
	ciphertext []byte
	nonce      [nonceSize]byte
}

// New builds a Store with a fresh random per-handler key.
func New() (*Store, error) {
	s := &Store{entries: make(map[string]*entry)}
	if _, err := rand.Read(s.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: generate store key: %w", err)
	}
	return s, nil
}

// Set encrypts plaintext under id and zeroes the caller-supplied slice
// immediately after sealing (spec.md §4.10 "Store").
func (s *Store) Set(id string, plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return &xecerr.DisposedError{Resource: "secrets.Store"}
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("secrets: generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, plaintext, &nonce, &s.key)
	s.entries[id] = &entry{ciphertext: sealed, nonce: nonce}

	zero(plaintext)
	return nil
}

// Get decrypts and returns the plaintext for id. The caller is
// responsible for zeroing the returned slice once done with it.
func (s *Store) Get(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, &xecerr.DisposedError{Resource: "secrets.Store"}
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("secrets: no entry %q", id)
	}
	out, ok := secretbox.Open(nil, e.ciphertext, &e.nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("secrets: entry %q failed authentication", id)
	}
	return out, nil
}

// Dispose zeroes the store key and every ciphertext buffer; any
// subsequent Get/Set returns DisposedError (spec.md §4.10 "Dispose").
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	zero(s.key[:])
	for id, e := range s.entries {
		zero(e.ciphertext)
		delete(s.entries, id)
	}
	s.disposed = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
