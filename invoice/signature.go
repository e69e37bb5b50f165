package invoice

import (
	"strconv"
	"strings"

	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/keys"
)

// Signature attests to an invoice's name, version, and parcel digests.
type Signature struct {
	By        string `toml:"by"`
	Signature string `toml:"signature"`
	Key       string `toml:"key"`
	Role      string `toml:"role"`
	At        int64  `toml:"at"`
	HashAlg   string `toml:"hashAlg,omitempty"`
}

// Signer produces base64 signatures for one public key.
type Signer interface {
	PublicKey() string
	Sign(message []byte, hashAlg string) (string, error)
}

// Cleartext is the byte string a signature covers: signer, bundle name and
// version, role, timestamp, then every parcel digest in declared order,
// newline-joined.
func Cleartext(inv *Invoice, by, role string, at int64) []byte {
	lines := []string{by, inv.Bindle.Name, inv.Bindle.Version, role, strconv.FormatInt(at, 10)}
	for _, p := range inv.Parcels {
		lines = append(lines, p.Label.SHA256)
	}
	return []byte(strings.Join(lines, "\n"))
}

// Sign appends a signature by s to inv. at is a Unix timestamp supplied by
// the caller.
func Sign(inv *Invoice, s Signer, by, role string, at int64, hashAlg string) error {
	const op = "invoice.sign"
	if err := keys.CheckRole(role); err != nil {
		return errs.Wrap(errs.KindValidation, op, "invalid role", err)
	}
	sig, err := s.Sign(Cleartext(inv, by, role, at), hashAlg)
	if err != nil {
		return errs.Wrap(errs.KindValidation, op, "signing failed", err)
	}
	inv.Signatures = append(inv.Signatures, Signature{
		By:        by,
		Signature: sig,
		Key:       s.PublicKey(),
		Role:      role,
		At:        at,
		HashAlg:   hashAlg,
	})
	return nil
}

// VerifySignatures checks every signature on inv. An unsigned invoice
// verifies.
func VerifySignatures(inv *Invoice) error {
	const op = "invoice.verify"
	for i, s := range inv.Signatures {
		if err := keys.CheckRole(s.Role); err != nil {
			return errs.Wrap(errs.KindValidation, op, "signature "+strconv.Itoa(i)+" has an invalid role", err)
		}
		msg := Cleartext(inv, s.By, s.Role, s.At)
		if err := keys.Verify(s.Key, s.HashAlg, msg, s.Signature); err != nil {
			return errs.Wrap(errs.KindValidation, op, "signature "+strconv.Itoa(i)+" by "+s.By+" does not verify", err)
		}
	}
	return nil
}
