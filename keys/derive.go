package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// roleKDFSalt versions the role derivation. Changing it re-keys every role.
const roleKDFSalt = "bindle/keys/role/v1"

// PublicKeyFromSeed returns the public key string of the Ed25519 key with the
// given seed.
func PublicKeyFromSeed(seed []byte) string {
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	s, _ := PublicKeyString(pub)
	return s
}

// DeriveRoleSeed expands a root seed into the seed of one signing role with
// HKDF-SHA256, so a single root key can sign invoices as creator, proxy, host
// or approver while only the root seed needs backing up.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if n := len(rootSeed); n != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes, got %d", ed25519.SeedSize, n)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	seed := make([]byte, ed25519.SeedSize)
	kdf := hkdf.New(sha256.New, rootSeed, []byte(roleKDFSalt), []byte(role))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("derive %s seed: %w", role, err)
	}
	return seed, nil
}
