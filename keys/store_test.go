package keys

import (
	"crypto/ed25519"
	"os"
	"testing"
)

func TestKeyStoreRootRoleAndDilithium(t *testing.T) {
	ks, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 7

	rootPub, path, err := ks.InitializeRootKey("alice", seed, false)
	if err != nil {
		t.Fatalf("InitializeRootKey: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected key file mode %v", info.Mode())
	}
	if _, _, err := ks.InitializeRootKey("alice", seed, false); err == nil {
		t.Fatalf("expected existing root key not to be overwritten")
	}

	rolePub, _, err := ks.DeriveRoleKey("alice", RoleCreator, false)
	if err != nil {
		t.Fatalf("DeriveRoleKey: %v", err)
	}
	if rolePub == rootPub {
		t.Fatalf("role key must differ from root key")
	}
	got, err := ks.PublicKey("alice", RoleCreator)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if got != rolePub {
		t.Fatalf("PublicKey: got %q want %q", got, rolePub)
	}

	_, sk, err := GenerateDilithium3Keypair(&deterministicReader{})
	if err != nil {
		t.Fatalf("GenerateDilithium3Keypair: %v", err)
	}
	dPub, err := ks.SaveDilithium3("alice", sk, false)
	if err != nil {
		t.Fatalf("SaveDilithium3: %v", err)
	}
	loaded, err := ks.LoadDilithium3("alice")
	if err != nil {
		t.Fatalf("LoadDilithium3: %v", err)
	}
	sig, err := SignDilithium3([]byte("m"), HashSHA256, loaded)
	if err != nil {
		t.Fatalf("SignDilithium3: %v", err)
	}
	if err := Verify(dPub, HashSHA256, []byte("m"), sig); err != nil {
		t.Fatalf("Verify with reloaded key: %v", err)
	}

	entries, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "alice" || !entries[0].Dilithium3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if len(entries[0].Roles) != 1 || entries[0].Roles[0] != RoleCreator {
		t.Fatalf("unexpected roles: %+v", entries[0].Roles)
	}
}
