// Package cryptkeyring holds the symmetric key used to encrypt Input Queue
// entries at rest. The key never leaves process memory; the holder is
// read-mostly and rotation-guarded so encrypt/decrypt calls never block on
// a writer beyond a single atomic pointer swap.
package cryptkeyring

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrUnknownKeyVersion is returned when a ciphertext references a key
// version this keyring does not hold.
var ErrUnknownKeyVersion = errors.New("cryptkeyring: unknown key version")

// generation is the immutable snapshot swapped in on rotation.
type generation struct {
	version uint32
	current genAEAD
	prior   map[uint32]genAEAD // every superseded version, for decrypting entries written before a rotation
}

type genAEAD struct {
	version uint32
	cipher  cipherAEAD
}

// cipherAEAD is the subset of cipher.AEAD used here, named locally so the
// keyring doesn't leak the crypto/cipher import to callers.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// Keyring holds the active key and every previously-rotated key, so entries
// encrypted before a rotation remain decryptable. The history is not
// bounded: no prior version is ever dropped.
type Keyring struct {
	gen atomic.Pointer[generation]
}

// New constructs a Keyring seeded with one freshly-generated key at
// version 1.
func New() (*Keyring, error) {
	k := &Keyring{}
	aead, err := newCipher()
	if err != nil {
		return nil, err
	}
	k.gen.Store(&generation{
		version: 1,
		current: genAEAD{version: 1, cipher: aead},
		prior:   map[uint32]genAEAD{},
	})
	return k, nil
}

func newCipher() (cipherAEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing aead: %w", err)
	}
	return aead, nil
}

// Rotate generates a new key and makes it the active version. The
// previously-active version is retained for decrypting not-yet-swept
// entries; callers are responsible for bounding how many prior versions
// accumulate (e.g. by re-encrypting on read, or capping retention to the
// Input Queue's own deadline window).
func (k *Keyring) Rotate() error {
	aead, err := newCipher()
	if err != nil {
		return err
	}

	old := k.gen.Load()
	next := &generation{
		version: old.version + 1,
		current: genAEAD{version: old.version + 1, cipher: aead},
		prior:   make(map[uint32]genAEAD, len(old.prior)+1),
	}
	for v, g := range old.prior {
		next.prior[v] = g
	}
	next.prior[old.current.version] = old.current

	k.gen.Store(next)
	return nil
}

// NonceSize returns the active cipher's nonce size, for callers generating
// a fresh nonce per entry.
func (k *Keyring) NonceSize() int {
	return k.gen.Load().current.cipher.NonceSize()
}

// Seal encrypts plaintext under the active key version and returns the
// ciphertext along with the version it was sealed under.
func (k *Keyring) Seal(nonce, plaintext, additionalData []byte) (ciphertext []byte, version uint32) {
	g := k.gen.Load().current
	return g.cipher.Seal(nil, nonce, plaintext, additionalData), g.version
}

// Open decrypts ciphertext that was sealed under version. Returns
// ErrUnknownKeyVersion if the keyring holds no key for that version.
func (k *Keyring) Open(version uint32, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	gen := k.gen.Load()

	var c cipherAEAD
	switch {
	case gen.current.version == version:
		c = gen.current.cipher
	default:
		g, ok := gen.prior[version]
		if !ok {
			return nil, ErrUnknownKeyVersion
		}
		c = g.cipher
	}

	plaintext, err := c.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}
