package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/digest"
)

func TestPutHasGet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	file := filepath.Join(dir, "payload.txt")
	require.NoError(t, os.WriteFile(file, []byte("direct parcel"), 0o644))
	d := digest.Sum([]byte("direct parcel")).String()
	common := []string{"--backend", "localfs", "--localfs-dir", store}

	var out, errOut bytes.Buffer
	require.Equal(t, 0, run(ctx, append(append([]string{"put"}, common...), file), &out, &errOut), errOut.String())
	require.Equal(t, d+"\t"+file+"\n", out.String())

	out.Reset()
	absent := digest.Sum([]byte("absent")).String()
	require.Equal(t, 1, run(ctx, append(append([]string{"has"}, common...), d, absent), &out, &errOut))
	require.Equal(t, d+"\ttrue\n"+absent+"\tfalse\n", out.String())

	out.Reset()
	require.Equal(t, 0, run(ctx, append(append([]string{"get"}, common...), d), &out, &errOut), errOut.String())
	require.Equal(t, "direct parcel", out.String())

	dst := filepath.Join(dir, "copy.txt")
	require.Equal(t, 0, run(ctx, append(append([]string{"get"}, common...), "--out", dst, d), &out, &errOut), errOut.String())
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "direct parcel", string(got))
}

func TestCIDAndUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	d := digest.Sum([]byte("x"))
	require.Equal(t, 0, run(context.Background(), []string{"cid", d.String()}, &out, &errOut))
	require.Equal(t, d.CID().String()+"\n", out.String())

	require.Equal(t, 2, run(context.Background(), nil, &out, &errOut))
	require.Equal(t, 2, run(context.Background(), []string{"bogus"}, &out, &errOut))

	out.Reset()
	require.Equal(t, 0, run(context.Background(), []string{"backends"}, &out, &errOut))
	require.True(t, strings.Contains(out.String(), "localfs\t"))
	require.False(t, strings.Contains(out.String(), "memory"))
}
