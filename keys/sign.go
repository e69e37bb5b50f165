package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"

	HashSHA256   = "sha256"
	HashSHA512   = "sha512"
	HashSHA3_256 = "sha3-256"
)

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case HashSHA256, "":
		s := sha256.Sum256(message)
		return s[:], nil
	case HashSHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case HashSHA3_256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// SignEd25519 returns a base64 signature over hash(message). An empty hashAlg
// means sha256.
func SignEd25519(message []byte, hashAlg string, privateKey ed25519.PrivateKey) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid ed25519 private key")
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(privateKey, digest)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignDilithium3 returns a base64 dilithium3 signature over hash(message).
// hashAlg must be one of: sha256, sha512, sha3-256.
func SignDilithium3(message []byte, hashAlg string, privateKey *mode3.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("missing private key")
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(privateKey, digest, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// ParsePublicKey splits an "<alg>:<base64>" key and checks the encoded key is
// well formed for alg.
func ParsePublicKey(key string) (alg string, pub []byte, err error) {
	alg, enc, ok := strings.Cut(key, ":")
	if !ok {
		return "", nil, fmt.Errorf("invalid public key encoding")
	}
	pub, err = decodeBase64(enc)
	if err != nil {
		return "", nil, fmt.Errorf("invalid public key base64: %w", err)
	}
	switch alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return "", nil, fmt.Errorf("invalid ed25519 public key length")
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return "", nil, fmt.Errorf("invalid dilithium3 public key: %w", err)
		}
	default:
		return "", nil, fmt.Errorf("unsupported public key algorithm %q", alg)
	}
	return alg, pub, nil
}

// Verify checks a base64 signature over hash(message) against an
// "<alg>:<base64>" public key.
func Verify(publicKey, hashAlg string, message []byte, signature string) error {
	alg, pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := decodeBase64(signature)
	if err != nil {
		return fmt.Errorf("invalid signature base64: %w", err)
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return err
	}

	switch alg {
	case AlgEd25519:
		if len(sig) != ed25519.SignatureSize {
			return fmt.Errorf("invalid ed25519 signature length")
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return fmt.Errorf("signature invalid")
		}
		return nil
	case AlgDilithium3:
		if len(sig) != mode3.SignatureSize {
			return fmt.Errorf("invalid dilithium3 signature length")
		}
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("invalid dilithium3 public key: %w", err)
		}
		if !mode3.Verify(&pk, digest, sig) {
			return fmt.Errorf("signature invalid")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key algorithm %q", alg)
	}
}

func decodeBase64(s string) ([]byte, error) {
	// Prefer standard padded encoding, but accept raw encoding too.
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
