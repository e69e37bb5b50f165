// Package digest computes and verifies the SHA-256 content digests that key
// every parcel.
//
// Digests are computed over a stream without buffering the payload. The
// canonical text form is 64 lowercase hex characters; the multihash and CIDv1
// (raw codec) projections are available for stores that address content that
// way.
package digest

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Size is the length in bytes of a SHA-256 digest.
const Size = 32

// Digest is a SHA-256 content digest.
type Digest [Size]byte

// Parse parses the canonical 64-character lowercase hex form.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(Size) {
		return d, fmt.Errorf("digest: want %d hex characters, got %d", hex.EncodedLen(Size), len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return d, fmt.Errorf("digest: invalid character %q at offset %d", c, i)
		}
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the canonical hex form.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Multihash returns the sha2-256 multihash encoding of d.
func (d Digest) Multihash() multihash.Multihash {
	mh, err := multihash.Encode(d[:], multihash.SHA2_256)
	if err != nil {
		// Encode only fails for a digest length the code does not allow.
		panic("digest: multihash encode: " + err.Error())
	}
	return mh
}

// CID returns the CIDv1 (raw codec, sha2-256) addressing the same bytes.
func (d Digest) CID() cid.Cid {
	return cid.NewCidV1(cid.Raw, d.Multihash())
}

// FromCID extracts the digest from a CID whose multihash is sha2-256.
func FromCID(id cid.Cid) (Digest, error) {
	var d Digest
	if !id.Defined() {
		return d, fmt.Errorf("digest: undefined cid")
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	if dec.Code != multihash.SHA2_256 || len(dec.Digest) != Size {
		return d, fmt.Errorf("digest: cid %s is not sha2-256", id)
	}
	copy(d[:], dec.Digest)
	return d, nil
}

// Sum returns the digest of b.
func Sum(b []byte) Digest {
	mh, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		panic("digest: multihash sum: " + err.Error())
	}
	d, err := fromMultihash(mh)
	if err != nil {
		panic(err)
	}
	return d
}

// Compute returns the digest of everything read from r. Read errors other
// than io.EOF are returned unchanged.
func Compute(r io.Reader) (Digest, error) {
	mh, err := multihash.SumStream(r, multihash.SHA2_256, -1)
	if err != nil {
		return Digest{}, err
	}
	return fromMultihash(mh)
}

// Verify reports whether the bytes read from r hash to want. A read error is
// returned as an error, never as a false result.
func Verify(want Digest, r io.Reader) (bool, error) {
	got, err := Compute(r)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// NewHash returns an incremental SHA-256 hash.Hash.
func NewHash() hash.Hash {
	h, err := multihash.GetHasher(multihash.SHA2_256)
	if err != nil {
		panic("digest: no sha2-256 hasher registered: " + err.Error())
	}
	return h
}

// FromHash reads the current digest out of a hash returned by NewHash.
func FromHash(h hash.Hash) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func fromMultihash(mh multihash.Multihash) (Digest, error) {
	var d Digest
	dec, err := multihash.Decode(mh)
	if err != nil {
		return d, fmt.Errorf("digest: %w", err)
	}
	if len(dec.Digest) != Size {
		return d, fmt.Errorf("digest: unexpected length %d", len(dec.Digest))
	}
	copy(d[:], dec.Digest)
	return d, nil
}
