package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	objstore "github.com/nitishm/bindle/storage"
	"github.com/nitishm/bindle/storage/testkit"
)

func TestObjectName(t *testing.T) {
	require.Equal(t, "parcels/abc", New(nil, "b", "").objectName("parcels/abc"))
	require.Equal(t, "bindle/parcels/abc", New(nil, "b", "bindle").objectName("parcels/abc"))
	require.Equal(t, "bindle/parcels/abc", New(nil, "b", "bindle/").objectName("parcels/abc"))
}

func TestIsPreconditionFailed(t *testing.T) {
	require.True(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusPreconditionFailed}))
	require.True(t, isPreconditionFailed(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
	require.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusNotFound}))
	require.False(t, isPreconditionFailed(errors.New("other")))
}

// Runs against fake-gcs-server or the Cloud Storage emulator when
// STORAGE_EMULATOR_HOST and BINDLE_TEST_GCS_BUCKET are set.
func TestGCS_EmulatorConformance(t *testing.T) {
	if os.Getenv("STORAGE_EMULATOR_HOST") == "" {
		t.Skip("STORAGE_EMULATOR_HOST not set")
	}
	bucket := os.Getenv("BINDLE_TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("BINDLE_TEST_GCS_BUCKET not set")
	}
	testkit.RunConformance(t, func(t *testing.T) objstore.ObjectStore {
		s, err := Open(context.Background(), Options{Bucket: bucket, Prefix: "test-" + uuid.NewString(), Anonymous: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
