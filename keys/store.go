package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Signing roles an invoice signature can claim.
const (
	RoleCreator  = "creator"
	RoleProxy    = "proxy"
	RoleHost     = "host"
	RoleApprover = "approver"
)

// KeyStore is a filesystem keyring.
//
// Layout under Directory:
//
//	<name>/root.key             hex Ed25519 seed
//	<name>/roles/<role>.key     hex Ed25519 seed derived from root.key
//	<name>/dilithium3.key       hex Dilithium3 private key
//
// Files are created 0600 and never overwritten unless asked.
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Name       string
	Roles      []string
	Dilithium3 bool
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".bindle", "keys"), nil
}

// Open returns a KeyStore rooted at directory, or at DefaultDirectory when
// directory is empty.
func Open(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootKeyPath(name string) string {
	return filepath.Join(ks.Directory, name, "root.key")
}

func (ks *KeyStore) roleKeyPath(name, role string) string {
	return filepath.Join(ks.Directory, name, "roles", role+".key")
}

func (ks *KeyStore) dilithiumKeyPath(name string) string {
	return filepath.Join(ks.Directory, name, "dilithium3.key")
}

func CheckKeyName(name string) error {
	if name == "" {
		return errors.New("key name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in key name", char)
	}
	return nil
}

func CheckRole(role string) error {
	switch role {
	case RoleCreator, RoleProxy, RoleHost, RoleApprover:
		return nil
	case "":
		return errors.New("role cannot be empty")
	default:
		return fmt.Errorf("unknown role %q", role)
	}
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func writeKeyFile(path string, data []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(data) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func saveSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	return writeKeyFile(path, seed, overwrite)
}

func loadSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

// InitializeRootKey stores seed as the root key of name and returns its
// public key.
func (ks *KeyStore) InitializeRootKey(name string, seed []byte, overwrite bool) (publicKey string, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	path = ks.rootKeyPath(name)
	if err := saveSeed(path, seed, overwrite); err != nil {
		return "", "", err
	}
	return PublicKeyFromSeed(seed), path, nil
}

// DeriveRoleKey derives and stores the role key of name.
func (ks *KeyStore) DeriveRoleKey(name, role string, overwrite bool) (publicKey string, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	rootSeed, err := loadSeed(ks.rootKeyPath(name))
	if err != nil {
		return "", "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return "", "", err
	}
	path = ks.roleKeyPath(name, role)
	if err := saveSeed(path, roleSeed, overwrite); err != nil {
		return "", "", err
	}
	return PublicKeyFromSeed(roleSeed), path, nil
}

// SaveDilithium3 stores a Dilithium3 private key for name.
func (ks *KeyStore) SaveDilithium3(name string, sk *mode3.PrivateKey, overwrite bool) (publicKey string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", err
	}
	if sk == nil {
		return "", errors.New("missing private key")
	}
	b, err := sk.MarshalBinary()
	if err != nil {
		return "", err
	}
	if err := writeKeyFile(ks.dilithiumKeyPath(name), b, overwrite); err != nil {
		return "", err
	}
	return Dilithium3PublicKeyString(sk.Public().(*mode3.PublicKey))
}

// LoadDilithium3 reads the Dilithium3 private key of name.
func (ks *KeyStore) LoadDilithium3(name string) (*mode3.PrivateKey, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ks.dilithiumKeyPath(name))
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	var sk mode3.PrivateKey
	if err := sk.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("invalid dilithium3 private key: %w", err)
	}
	return &sk, nil
}

// PublicKey returns the Ed25519 public key of name, or of its role key when
// role is set.
func (ks *KeyStore) PublicKey(name, role string) (string, error) {
	seed, err := ks.LoadSeed(name, role)
	if err != nil {
		return "", err
	}
	return PublicKeyFromSeed(seed), nil
}

// LoadSeed reads the root seed of name, or its role seed when role is set.
func (ks *KeyStore) LoadSeed(name, role string) ([]byte, error) {
	if err := CheckKeyName(name); err != nil {
		return nil, err
	}
	if role == "" {
		return loadSeed(ks.rootKeyPath(name))
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	return loadSeed(ks.roleKeyPath(name, role))
}

func (ks *KeyStore) List() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var result []KeyEntry
	for _, name := range names {
		e := KeyEntry{Name: name}
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, name, "roles"))
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if !roleEntry.IsDir() && strings.HasSuffix(roleEntry.Name(), ".key") {
					e.Roles = append(e.Roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(e.Roles)
		}
		if _, err := os.Stat(ks.dilithiumKeyPath(name)); err == nil {
			e.Dilithium3 = true
		}
		result = append(result, e)
	}
	return result, nil
}
