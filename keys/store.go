package keys

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// KeyStore keeps Dilithium3 seeds on the local filesystem.
//
// Layout:
//
//	<dir>/<name>/root.key
//	<dir>/<name>/roles/<role>.key
//
// Each file holds one hex seed followed by a newline, mode 0600.
type KeyStore struct {
	Directory string
}

type KeyEntry struct {
	Identifier string
	Roles      []string
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".drinkpoap", "keys"), nil
}

func CreateKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = GetDefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, err
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootKeyPath(identifier string) string {
	return filepath.Join(ks.Directory, identifier, "root.key")
}

func (ks *KeyStore) roleKeyPath(identifier, role string) string {
	return filepath.Join(ks.Directory, identifier, "roles", role+".key")
}

func CheckKeyName(identifier string) error {
	if identifier == "" {
		return errors.New("identifier cannot be empty")
	}
	return checkChars(identifier, "identifier")
}

// CheckRole validates a role or derivation label.
func CheckRole(role string) error {
	if role == "" {
		return errors.New("role cannot be empty")
	}
	return checkChars(role, "role")
}

func checkChars(s, what string) error {
	for _, char := range s {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", char, what)
	}
	return nil
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != mode3.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", mode3.SeedSize, len(data))
	}
	return data, nil
}

// NewSeed returns a fresh random seed.
func NewSeed() ([]byte, error) {
	seed := make([]byte, mode3.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// LoadSeedFile reads a hex seed file written by a KeyStore.
func LoadSeedFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(data))
}

func saveSeed(filePath string, seed []byte, overwrite bool) error {
	if len(seed) != mode3.SeedSize {
		return fmt.Errorf("expected seed length of %d bytes", mode3.SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

// InitializeRootKey stores seed as the root key for identifier and returns
// the encoded public key.
func (ks *KeyStore) InitializeRootKey(identifier string, seed []byte, overwrite bool) (publicKey string, filePath string, err error) {
	if err := CheckKeyName(identifier); err != nil {
		return "", "", err
	}
	filePath = ks.rootKeyPath(identifier)
	if err := saveSeed(filePath, seed, overwrite); err != nil {
		return "", "", err
	}
	publicKey, err = encodeSeedPublicKey(seed)
	return publicKey, filePath, err
}

// DeriveKeyFromRole derives and stores a role key under identifier.
func (ks *KeyStore) DeriveKeyFromRole(from, role string, overwrite bool) (publicKey string, filePath string, err error) {
	if err := CheckKeyName(from); err != nil {
		return "", "", err
	}
	rootSeed, err := LoadSeedFile(ks.rootKeyPath(from))
	if err != nil {
		return "", "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return "", "", err
	}
	filePath = ks.roleKeyPath(from, role)
	if err := saveSeed(filePath, roleSeed, overwrite); err != nil {
		return "", "", err
	}
	publicKey, err = encodeSeedPublicKey(roleSeed)
	return publicKey, filePath, err
}

// ExportPublicKey returns the encoded public key for identifier (and role, if set).
func (ks *KeyStore) ExportPublicKey(identifier, role string) (string, error) {
	seed, err := ks.LoadSeed(identifier, role)
	if err != nil {
		return "", err
	}
	return encodeSeedPublicKey(seed)
}

// LoadSeed reads the root seed for identifier, or the role seed when role is set.
func (ks *KeyStore) LoadSeed(identifier, role string) ([]byte, error) {
	if err := CheckKeyName(identifier); err != nil {
		return nil, err
	}
	if role == "" {
		return LoadSeedFile(ks.rootKeyPath(identifier))
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	return LoadSeedFile(ks.roleKeyPath(identifier, role))
}

func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var identifiers []string
	for _, entry := range entries {
		if entry.IsDir() {
			identifiers = append(identifiers, entry.Name())
		}
	}
	sort.Strings(identifiers)

	var result []KeyEntry
	for _, identifier := range identifiers {
		roleEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, identifier, "roles"))
		var roles []string
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if !roleEntry.IsDir() && strings.HasSuffix(roleEntry.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Identifier: identifier, Roles: roles})
	}
	return result, nil
}

func encodeSeedPublicKey(seed []byte) (string, error) {
	pk, _, err := Dilithium3FromSeed(seed)
	if err != nil {
		return "", err
	}
	return EncodePublicKey(pk), nil
}
