// Package invoice defines the bundle manifest: its id, the labels of the
// parcels it references, groups, conditions, and signatures.
package invoice

import (
	"fmt"
	"maps"
	"slices"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/errs"
)

// BindleVersionV1 is the only manifest schema version accepted.
const BindleVersionV1 = "1.0.0"

type Invoice struct {
	BindleVersion string            `toml:"bindleVersion"`
	Yanked        bool              `toml:"yanked,omitempty"`
	Bindle        BundleSpec        `toml:"bindle"`
	Annotations   map[string]string `toml:"annotations,omitempty"`
	Parcels       []Parcel          `toml:"parcel,omitempty"`
	Groups        []Group           `toml:"group,omitempty"`
	Signatures    []Signature       `toml:"signature,omitempty"`
}

type BundleSpec struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Description string   `toml:"description,omitempty"`
	Authors     []string `toml:"authors,omitempty"`
}

type Parcel struct {
	Label      Label      `toml:"label"`
	Conditions *Condition `toml:"conditions,omitempty"`
}

// Label describes one referenced parcel. SHA256 is the lowercase hex digest
// that addresses the parcel's content.
type Label struct {
	SHA256      string            `toml:"sha256"`
	MediaType   string            `toml:"mediaType"`
	Name        string            `toml:"name"`
	Size        uint64            `toml:"size"`
	Annotations map[string]string `toml:"annotations,omitempty"`
}

type Condition struct {
	MemberOf []string `toml:"memberOf,omitempty"`
	Requires []string `toml:"requires,omitempty"`
}

type Group struct {
	Name        string `toml:"name"`
	Required    bool   `toml:"required,omitempty"`
	SatisfiedBy string `toml:"satisfiedBy,omitempty"`
}

// New returns an empty invoice for id.
func New(id BundleID) *Invoice {
	return &Invoice{
		BindleVersion: BindleVersionV1,
		Bindle:        BundleSpec{Name: id.Name, Version: id.Version},
	}
}

func (inv *Invoice) ID() BundleID {
	return BundleID{Name: inv.Bindle.Name, Version: inv.Bindle.Version}
}

// Labels returns the parcel labels in declared order.
func (inv *Invoice) Labels() []Label {
	out := make([]Label, len(inv.Parcels))
	for i, p := range inv.Parcels {
		out[i] = p.Label
	}
	return out
}

// Label returns the label referencing d, if any.
func (inv *Invoice) Label(d digest.Digest) (Label, bool) {
	want := d.String()
	for _, p := range inv.Parcels {
		if p.Label.SHA256 == want {
			return p.Label, true
		}
	}
	return Label{}, false
}

// Digest parses the label's SHA256 field.
func (l Label) Digest() (digest.Digest, error) {
	return digest.Parse(l.SHA256)
}

// Clone returns a deep copy.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	out := *inv
	out.Bindle.Authors = slices.Clone(inv.Bindle.Authors)
	out.Annotations = maps.Clone(inv.Annotations)
	out.Parcels = make([]Parcel, len(inv.Parcels))
	for i, p := range inv.Parcels {
		p.Label.Annotations = maps.Clone(p.Label.Annotations)
		if p.Conditions != nil {
			c := Condition{
				MemberOf: slices.Clone(p.Conditions.MemberOf),
				Requires: slices.Clone(p.Conditions.Requires),
			}
			p.Conditions = &c
		}
		out.Parcels[i] = p
	}
	if inv.Parcels == nil {
		out.Parcels = nil
	}
	out.Groups = slices.Clone(inv.Groups)
	out.Signatures = slices.Clone(inv.Signatures)
	return &out
}

// Validate checks the id, every label, and group references. It does not
// verify signatures; see VerifySignatures.
func (inv *Invoice) Validate() error {
	const op = "invoice.validate"
	if inv == nil {
		return errs.New(errs.KindValidation, op, "invoice is required")
	}
	if inv.BindleVersion != BindleVersionV1 {
		return errs.Newf(errs.KindValidation, op, "unsupported bindleVersion %q", inv.BindleVersion)
	}
	if err := inv.ID().Validate(); err != nil {
		return err
	}

	groups := make(map[string]struct{}, len(inv.Groups))
	for _, g := range inv.Groups {
		if g.Name == "" {
			return errs.New(errs.KindValidation, op, "group name is required")
		}
		if _, dup := groups[g.Name]; dup {
			return errs.Newf(errs.KindValidation, op, "group %q declared twice", g.Name)
		}
		switch g.SatisfiedBy {
		case "", "allOf", "oneOf", "optional":
		default:
			return errs.Newf(errs.KindValidation, op, "group %q: unknown satisfiedBy %q", g.Name, g.SatisfiedBy)
		}
		groups[g.Name] = struct{}{}
	}

	seen := make(map[string]int, len(inv.Parcels))
	for i, p := range inv.Parcels {
		l := p.Label
		if _, err := l.Digest(); err != nil {
			return errs.Wrap(errs.KindValidation, op, fmt.Sprintf("parcel %d has an invalid sha256", i), err)
		}
		if l.Name == "" {
			return errs.Newf(errs.KindValidation, op, "parcel %s has no name", l.SHA256)
		}
		if prev, dup := seen[l.SHA256]; dup {
			return errs.Newf(errs.KindValidation, op, "parcel %s referenced by entries %d and %d", l.SHA256, prev, i)
		}
		seen[l.SHA256] = i
		if p.Conditions == nil {
			continue
		}
		for _, name := range append(slices.Clone(p.Conditions.MemberOf), p.Conditions.Requires...) {
			if _, ok := groups[name]; !ok {
				return errs.Newf(errs.KindValidation, op, "parcel %s references undeclared group %q", l.SHA256, name)
			}
		}
	}
	return nil
}
