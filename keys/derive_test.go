package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func rootSeed() []byte {
	root := make([]byte, ed25519.SeedSize)
	for i := range root {
		root[i] = byte(i)
	}
	return root
}

func TestDeriveRoleSeed(t *testing.T) {
	root := rootSeed()
	seeds := map[string][]byte{}
	for _, role := range []string{RoleCreator, RoleProxy, RoleHost, RoleApprover} {
		seed, err := DeriveRoleSeed(root, role)
		require.NoError(t, err)
		require.Len(t, seed, ed25519.SeedSize)
		require.False(t, bytes.Equal(seed, root), role)

		again, err := DeriveRoleSeed(root, role)
		require.NoError(t, err)
		require.Equal(t, seed, again, "derivation must be deterministic")

		for other, s := range seeds {
			require.NotEqual(t, s, seed, "%s and %s share a seed", role, other)
		}
		seeds[role] = seed
	}

	// The role name is the HKDF info and the versioned salt is fixed.
	want := make([]byte, ed25519.SeedSize)
	_, err := io.ReadFull(hkdf.New(sha256.New, root, []byte(roleKDFSalt), []byte(RoleHost)), want)
	require.NoError(t, err)
	require.Equal(t, want, seeds[RoleHost])
}

func TestDeriveRoleSeedRejectsBadInput(t *testing.T) {
	_, err := DeriveRoleSeed(rootSeed(), "janitor")
	require.Error(t, err)

	_, err = DeriveRoleSeed(rootSeed()[:16], RoleCreator)
	require.ErrorContains(t, err, "got 16")
}

func TestPublicKeyFromSeedFormat(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, ed25519.SeedSize)
	key := PublicKeyFromSeed(seed)
	require.True(t, strings.HasPrefix(key, AlgEd25519+":"), key)

	pub, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(key, AlgEd25519+":"))
	require.NoError(t, err)
	require.Equal(t, ed25519.NewKeyFromSeed(seed).Public(), ed25519.PublicKey(pub))
}
