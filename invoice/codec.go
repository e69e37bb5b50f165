package invoice

import (
	"bytes"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
)

// fingerprintMode is Core Deterministic CBOR (RFC 8949 §4.2). Nil and empty
// containers encode identically so a decoded invoice and a constructed one
// with the same content share a fingerprint.
var fingerprintMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.NilContainers = cbor.NilContainerAsEmpty
	var err error
	fingerprintMode, err = opts.EncMode()
	if err != nil {
		panic("invoice: CBOR encoder initialization failed: " + err.Error())
	}
}

// Encode writes inv as a TOML document.
func Encode(w io.Writer, inv *Invoice) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(inv)
}

// Marshal returns inv as a TOML document.
func Marshal(inv *Invoice) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, inv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a TOML invoice. Malformed documents are Validation errors.
// Unknown keys are ignored.
func Decode(r io.Reader) (*Invoice, error) {
	var inv Invoice
	if err := toml.NewDecoder(r).Decode(&inv); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "invoice.decode", "malformed invoice", err)
	}
	return &inv, nil
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(b []byte) (*Invoice, error) {
	return Decode(bytes.NewReader(b))
}

// Fingerprint is the content identity of inv: the SHA-256 of its canonical
// CBOR encoding with the yanked flag cleared. Two invoices with equal
// fingerprints are interchangeable for create.
func Fingerprint(inv *Invoice) (digest.Digest, error) {
	c := canonical(inv)
	b, err := fingerprintMode.Marshal(c)
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Sum(b), nil
}

func canonical(inv *Invoice) *Invoice {
	c := inv.Clone()
	c.Yanked = false
	for i := range c.Parcels {
		if cond := c.Parcels[i].Conditions; cond != nil && len(cond.MemberOf) == 0 && len(cond.Requires) == 0 {
			c.Parcels[i].Conditions = nil
		}
	}
	return c
}
