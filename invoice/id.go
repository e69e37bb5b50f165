package invoice

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/nitishm/bindle/errs"
)

// BundleID names one invoice: a slash-separated bundle name plus a semantic
// version, written "name/version".
type BundleID struct {
	Name    string
	Version string
}

// ParseID splits s on its last slash. Both halves are validated.
func ParseID(s string) (BundleID, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return BundleID{}, errs.Newf(errs.KindValidation, "invoice.parse_id", "bundle id %q must be name/version", s)
	}
	id := BundleID{Name: s[:i], Version: s[i+1:]}
	if err := id.Validate(); err != nil {
		return BundleID{}, err
	}
	return id, nil
}

func (id BundleID) String() string { return id.Name + "/" + id.Version }

// Validate checks the name is a clean slash-separated path and the version is
// a semantic version without a "v" prefix.
func (id BundleID) Validate() error {
	const op = "invoice.validate_id"
	if id.Name == "" {
		return errs.New(errs.KindValidation, op, "bundle name is required")
	}
	for _, seg := range strings.Split(id.Name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errs.Newf(errs.KindValidation, op, "bundle name %q has an empty or relative segment", id.Name)
		}
		if strings.ContainsAny(seg, " \t\r\n@\\") {
			return errs.Newf(errs.KindValidation, op, "bundle name %q contains an invalid character", id.Name)
		}
	}
	if id.Version == "" {
		return errs.New(errs.KindValidation, op, "bundle version is required")
	}
	if strings.HasPrefix(id.Version, "v") || !semver.IsValid("v"+id.Version) || !fullVersion(id.Version) {
		return errs.Newf(errs.KindValidation, op, "bundle version %q is not a semantic version", id.Version)
	}
	return nil
}

// Compare orders ids by name, then by semantic version precedence. Versions
// that differ only in build metadata fall back to a string comparison so the
// order stays total.
func Compare(a, b BundleID) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := semver.Compare("v"+a.Version, "v"+b.Version); c != 0 {
		return c
	}
	return strings.Compare(a.Version, b.Version)
}

// fullVersion rejects the "1" and "1.2" shorthands semver.IsValid accepts.
func fullVersion(v string) bool {
	core, _, _ := strings.Cut(v, "+")
	core, _, _ = strings.Cut(core, "-")
	return strings.Count(core, ".") == 2
}
