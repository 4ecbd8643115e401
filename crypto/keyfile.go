package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SaveSeedFile writes the key's seed strkey to path with owner-only
// permissions. The parent directory is created with 0700 if missing and the
// write is atomic so a crash never leaves a partial seed behind.
func SaveSeedFile(path string, key *PrivateKey) error {
	if key == nil {
		return errNilKey
	}
	if path == "" {
		return errors.New("crypto: empty seed file path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "seed-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(key.Seed() + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadSeedFile reads a seed strkey written by SaveSeedFile.
func LoadSeedFile(path string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty seed file path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(strings.TrimSpace(string(raw)))
}
