// Command parcelcli reads and writes parcels directly in an object-store
// backend, without a server. It is meant for inspecting and seeding stores.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/nitishm/bindle/digest"
	"github.com/nitishm/bindle/parcel"
	"github.com/nitishm/bindle/storage/registry"

	_ "github.com/nitishm/bindle/storage/gcs"
	_ "github.com/nitishm/bindle/storage/ipfs"
	_ "github.com/nitishm/bindle/storage/localfs"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "put":
		return cmdPut(ctx, args[1:], out, errOut)
	case "get":
		return cmdGet(ctx, args[1:], out, errOut)
	case "has":
		return cmdHas(ctx, args[1:], out, errOut)
	case "cid":
		return cmdCID(args[1:], out, errOut)
	case "backends":
		printBackends(out)
		return 0
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "parcelcli: direct parcel access to an object store")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  parcelcli put --backend localfs --localfs-dir <dir> <file>...")
	fmt.Fprintln(w, "  parcelcli get --backend localfs --localfs-dir <dir> [--out <file>] <sha256>")
	fmt.Fprintln(w, "  parcelcli has --backend localfs --localfs-dir <dir> <sha256>...")
	fmt.Fprintln(w, "  parcelcli cid <sha256>")
	fmt.Fprintln(w, "  parcelcli backends")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - ipfs backend shells out to the local Kubo 'ipfs' CLI")
	fmt.Fprintln(w, "  - put stores each file under its computed digest; invoices are not consulted")
}

type commonFlags struct {
	backend string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "localfs", "Object store backend name")
	registry.RegisterFlags(fs, registry.UsageCLI)
}

func (c *commonFlags) openParcels() (*parcel.Store, func(), error) {
	objects, closeFn, err := registry.Open(c.backend, registry.UsageCLI)
	if err != nil {
		return nil, nil, err
	}
	ps, err := parcel.New(objects, parcel.Options{CacheEntries: -1})
	if err != nil {
		if closeFn != nil {
			_ = closeFn()
		}
		return nil, nil, err
	}
	return ps, func() {
		ps.Close()
		if closeFn != nil {
			_ = closeFn()
		}
	}, nil
}

func printBackends(w io.Writer) {
	for _, b := range registry.List(registry.UsageCLI) {
		if b.Description == "" {
			_, _ = fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

func newFlagSet(name string, errOut io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

func cmdPut(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("put", errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: parcelcli put [common flags] <file>...")
		return 2
	}

	ps, closeFn, err := common.openParcels()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer closeFn()

	for _, p := range fs.Args() {
		d, err := putFile(ctx, ps, p)
		if err != nil {
			fmt.Fprintf(errOut, "put %s: %v\n", filepath.Base(p), err)
			return 1
		}
		_, _ = fmt.Fprintf(out, "%s\t%s\n", d, p)
	}
	return 0
}

func putFile(ctx context.Context, ps *parcel.Store, path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return digest.Digest{}, err
	}
	defer f.Close()
	d, err := digest.Compute(f)
	if err != nil {
		return digest.Digest{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return digest.Digest{}, err
	}
	return d, ps.Put(ctx, d, f)
}

func cmdGet(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("get", errOut)
	var common commonFlags
	common.add(fs)
	var outPath string
	fs.StringVar(&outPath, "out", "", "Output file (optional; default stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: parcelcli get [common flags] [--out <file>] <sha256>")
		return 2
	}
	d, err := digest.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	ps, closeFn, err := common.openParcels()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer closeFn()

	s, err := ps.Get(ctx, d)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer s.Close()

	w := out
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if _, err := s.Copy(ctx, w); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdHas(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("has", errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: parcelcli has [common flags] <sha256>...")
		return 2
	}

	ps, closeFn, err := common.openParcels()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer closeFn()

	code := 0
	for _, arg := range fs.Args() {
		d, err := digest.Parse(arg)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		ok, err := ps.Exists(ctx, d)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		if !ok {
			code = 1
		}
		_, _ = fmt.Fprintf(out, "%s\t%t\n", d, ok)
	}
	return code
}

func cmdCID(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: parcelcli cid <sha256>")
		return 2
	}
	d, err := digest.Parse(args[0])
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	_, _ = fmt.Fprintln(out, d.CID().String())
	return 0
}
