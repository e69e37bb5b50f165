package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// PublicKeyString encodes an Ed25519 public key as "ed25519:<base64>".
func PublicKeyString(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return AlgEd25519 + ":" + base64.StdEncoding.EncodeToString(pub), nil
}

// Dilithium3PublicKeyString encodes a Dilithium3 public key as
// "dilithium3:<base64>".
func Dilithium3PublicKeyString(pub *mode3.PublicKey) (string, error) {
	if pub == nil {
		return "", fmt.Errorf("missing public key")
	}
	b, err := pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	return AlgDilithium3 + ":" + base64.StdEncoding.EncodeToString(b), nil
}
