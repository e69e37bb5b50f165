package sqlrepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nitishm/bindle/invoicestore"
	"github.com/nitishm/bindle/invoicestore/storetest"
)

func openTemp(t *testing.T) *Repo {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "invoices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSQLRepo(t *testing.T) {
	storetest.Run(t, func(t *testing.T) invoicestore.Repository {
		return openTemp(t)
	})
}

func TestSQLRepo_InMemory(t *testing.T) {
	r, err := Open(":memory:")
	require.NoError(t, err)
	defer r.Close()

	s := invoicestore.New(r, nil)
	_, created, err := s.Create(context.Background(), storetest.Invoice("mem/1.0.0", "a"))
	require.NoError(t, err)
	require.True(t, created)
}
