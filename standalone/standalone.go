// Package standalone exports an invoice and its stored parcels as a single
// deterministic tar archive, and imports such archives back through the
// bundle service.
//
// Archive layout:
//
//	invoice.toml
//	parcels/<sha256>.dat    one per stored parcel, sorted by digest
//	index.json              digest, CIDv1, and size of every parcel
//
// The archive may be zstd-compressed; Import detects this.
package standalone

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/service"
)

// FormatVersion is the current index.json schema version.
const FormatVersion = 1

const (
	invoiceEntry = "invoice.toml"
	indexEntry   = "index.json"
	parcelPrefix = "parcels/"
	parcelSuffix = ".dat"
)

var epoch0 = time.Unix(0, 0).UTC()

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Source reads bundles. *service.Service and the gRPC client satisfy it.
type Source interface {
	GetInvoice(ctx context.Context, id invoice.BundleID) (*invoice.Invoice, error)
	GetParcel(ctx context.Context, id invoice.BundleID, d digest.Digest) ([]byte, error)
}

// Sink writes bundles. *service.Service and the gRPC client satisfy it.
type Sink interface {
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) (*service.CreateResult, error)
	CreateParcel(ctx context.Context, id invoice.BundleID, d digest.Digest, r io.Reader) error
}

type ExportOptions struct {
	// Compress wraps the archive in zstd.
	Compress bool
	// SkipMissing exports only the parcels that are stored. Without it a
	// missing parcel fails the export.
	SkipMissing bool
}

// Export writes the archive for id to w. The bytes are deterministic for a
// given invoice and set of stored parcels.
func Export(ctx context.Context, w io.Writer, src Source, id invoice.BundleID, opts ExportOptions) (err error) {
	inv, err := src.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	doc, err := invoice.Marshal(inv)
	if err != nil {
		return fmt.Errorf("standalone: encoding invoice: %w", err)
	}

	out := w
	if opts.Compress {
		zw, zerr := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if zerr != nil {
			return zerr
		}
		defer func() {
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
		}()
		out = zw
	}

	tw := tar.NewWriter(out)
	if err := writeFile(tw, invoiceEntry, doc); err != nil {
		_ = tw.Close()
		return err
	}

	labels := inv.Labels()
	sort.Slice(labels, func(i, j int) bool { return labels[i].SHA256 < labels[j].SHA256 })

	idx := indexJSON{Version: FormatVersion, Bundle: id.String(), CIDCodec: "raw", Multihash: "sha2-256"}
	for _, l := range labels {
		d, perr := l.Digest()
		if perr != nil {
			_ = tw.Close()
			return perr
		}
		b, gerr := src.GetParcel(ctx, id, d)
		if errs.IsKind(gerr, errs.KindNotFound) && opts.SkipMissing {
			continue
		}
		if gerr != nil {
			_ = tw.Close()
			return gerr
		}
		if digest.Sum(b) != d {
			_ = tw.Close()
			return errs.Newf(errs.KindDigestMismatch, "standalone.export", "stored parcel %s does not match its digest", d)
		}
		if err := writeFile(tw, parcelPrefix+d.String()+parcelSuffix, b); err != nil {
			_ = tw.Close()
			return err
		}
		idx.Parcels = append(idx.Parcels, indexParcel{SHA256: d.String(), CID: d.CID().String(), Size: len(b)})
	}

	b, err := marshalIndexJSON(idx)
	if err != nil {
		_ = tw.Close()
		return err
	}
	if err := writeFile(tw, indexEntry, b); err != nil {
		_ = tw.Close()
		return err
	}
	return tw.Close()
}

type ImportOptions struct {
	// IgnoreUnknown controls whether unknown tar entries are ignored.
	//
	// Default (false) is fail-closed: unknown entries cause Import to return an error.
	IgnoreUnknown bool
}

type ImportResult struct {
	ID invoice.BundleID
	// Created is false when the invoice already existed with identical content.
	Created bool
	// Parcels counts parcel entries passed to the sink, including ones the
	// sink already held.
	Parcels int
}

// Import reads an archive and replays it into dst: the invoice first, then
// every parcel. Each parcel is verified against its entry name.
func Import(ctx context.Context, r io.Reader, dst Sink, opts ImportOptions) (ImportResult, error) {
	var res ImportResult
	in, closeIn, err := maybeDecompress(r)
	if err != nil {
		return res, err
	}
	defer closeIn()

	tr := tar.NewReader(in)
	var inv *invoice.Invoice
	seen := map[digest.Digest]struct{}{}
	var idx *indexJSON

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return res, fmt.Errorf("standalone: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("standalone: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == invoiceEntry:
			if inv != nil {
				return res, errors.New("standalone: duplicate invoice.toml")
			}
			inv, err = invoice.Decode(tr)
			if err != nil {
				return res, err
			}
			created, err := dst.CreateInvoice(ctx, inv)
			if err != nil {
				return res, err
			}
			res.ID = inv.ID()
			res.Created = created.Created

		case name == indexEntry:
			idx = &indexJSON{}
			if err := json.NewDecoder(tr).Decode(idx); err != nil {
				return res, fmt.Errorf("standalone: malformed index.json: %w", err)
			}

		case strings.HasPrefix(name, parcelPrefix) && strings.HasSuffix(name, parcelSuffix):
			if inv == nil {
				return res, errors.New("standalone: parcel entry before invoice.toml")
			}
			d, err := digest.Parse(strings.TrimSuffix(strings.TrimPrefix(name, parcelPrefix), parcelSuffix))
			if err != nil {
				return res, errs.Wrap(errs.KindValidation, "standalone.import", "invalid parcel entry "+name, err)
			}
			if _, dup := seen[d]; dup {
				return res, fmt.Errorf("standalone: duplicate parcel entry: %s", name)
			}
			seen[d] = struct{}{}
			if err := dst.CreateParcel(ctx, inv.ID(), d, tr); err != nil {
				return res, err
			}
			res.Parcels++

		default:
			if opts.IgnoreUnknown {
				continue
			}
			return res, fmt.Errorf("standalone: unknown entry: %s", name)
		}
	}

	if inv == nil {
		return res, errors.New("standalone: archive has no invoice.toml")
	}
	if idx != nil {
		if err := idx.check(seen); err != nil {
			return res, err
		}
	}
	return res, nil
}

func maybeDecompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	if !bytes.Equal(magic, zstdMagic) {
		return br, func() {}, nil
	}
	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, nil, err
	}
	return zr, zr.Close, nil
}

type indexJSON struct {
	Version   int           `json:"version"`
	Bundle    string        `json:"bundle"`
	CIDCodec  string        `json:"cidCodec"`
	Multihash string        `json:"multihash"`
	Parcels   []indexParcel `json:"parcels"`
}

type indexParcel struct {
	SHA256 string `json:"sha256"`
	CID    string `json:"cid"`
	Size   int    `json:"size"`
}

// check confirms the index describes exactly the parcels in the archive and
// that each CID addresses the same digest.
func (idx *indexJSON) check(seen map[digest.Digest]struct{}) error {
	if idx.Version != FormatVersion {
		return fmt.Errorf("standalone: unsupported index version %d", idx.Version)
	}
	if len(idx.Parcels) != len(seen) {
		return fmt.Errorf("standalone: index lists %d parcels, archive holds %d", len(idx.Parcels), len(seen))
	}
	for _, p := range idx.Parcels {
		d, err := digest.Parse(p.SHA256)
		if err != nil {
			return fmt.Errorf("standalone: index: %w", err)
		}
		if _, ok := seen[d]; !ok {
			return fmt.Errorf("standalone: index lists %s which is not in the archive", d)
		}
		id, err := cid.Decode(p.CID)
		if err != nil {
			return fmt.Errorf("standalone: index: %w", err)
		}
		got, err := digest.FromCID(id)
		if err != nil || got != d {
			return fmt.Errorf("standalone: index cid %s does not address %s", p.CID, d)
		}
	}
	return nil
}

func marshalIndexJSON(idx indexJSON) ([]byte, error) {
	// indexJSON is composed only of structs + slices; encoding/json will be deterministic.
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
