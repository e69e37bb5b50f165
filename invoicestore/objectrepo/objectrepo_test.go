package objectrepo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/invoicestore/storetest"
	"github.com/nitishm/bindle/storage/localfs"
	"github.com/nitishm/bindle/storage/memory"
)

func TestObjectRepo_Memory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) invoicestore.Repository {
		return New(memory.New())
	})
}

func TestObjectRepo_LocalFS(t *testing.T) {
	storetest.Run(t, func(t *testing.T) invoicestore.Repository {
		s, err := localfs.New(t.TempDir())
		require.NoError(t, err)
		return New(s)
	})
}

func TestObjectRepo_Layout(t *testing.T) {
	ctx := context.Background()
	objects := memory.New()
	repo := New(objects)
	s := invoicestore.New(repo, nil)
	inv := storetest.Invoice("example.com/layout/1.2.3", "a")

	_, _, err := s.Create(ctx, inv)
	require.NoError(t, err)
	ok, err := objects.Exists(ctx, invoiceKey(inv.ID()))
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(invoiceKey(inv.ID()), "invoices/"))

	require.NoError(t, s.SetYanked(ctx, inv.ID()))
	ok, err = objects.Exists(ctx, yankKey(inv.ID()))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, objects.Len())
}

func TestObjectRepo_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := localfs.New(dir)
	require.NoError(t, err)
	inv := storetest.Invoice("persist/1.0.0", "a", "b")
	_, _, err = invoicestore.New(New(fs), nil).Create(ctx, inv)
	require.NoError(t, err)

	reopened, err := localfs.New(dir)
	require.NoError(t, err)
	s := invoicestore.New(New(reopened), nil)
	_, created, err := s.Create(ctx, storetest.Invoice("persist/1.0.0", "a", "b"))
	require.NoError(t, err)
	require.False(t, created)
}
