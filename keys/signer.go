package keys

import (
	"crypto/ed25519"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Ed25519Signer signs with an Ed25519 private key.
type Ed25519Signer struct {
	Key ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) Ed25519Signer {
	return Ed25519Signer{Key: ed25519.NewKeyFromSeed(seed)}
}

func (s Ed25519Signer) PublicKey() string {
	k, _ := PublicKeyString(s.Key.Public().(ed25519.PublicKey))
	return k
}

func (s Ed25519Signer) Sign(message []byte, hashAlg string) (string, error) {
	return SignEd25519(message, hashAlg, s.Key)
}

// Dilithium3Signer signs with a Dilithium3 private key.
type Dilithium3Signer struct {
	Key *mode3.PrivateKey
}

func (s Dilithium3Signer) PublicKey() string {
	k, _ := Dilithium3PublicKeyString(s.Key.Public().(*mode3.PublicKey))
	return k
}

func (s Dilithium3Signer) Sign(message []byte, hashAlg string) (string, error) {
	return SignDilithium3(message, hashAlg, s.Key)
}
