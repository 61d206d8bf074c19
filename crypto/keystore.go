package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// KeystoreParams selects the scrypt cost used when encrypting a key.
type KeystoreParams struct {
	ScryptN int
	ScryptP int
}

// StandardKeystoreParams are the go-ethereum defaults for interactive keys.
var StandardKeystoreParams = KeystoreParams{ScryptN: keystore.StandardScryptN, ScryptP: keystore.StandardScryptP}

// LightKeystoreParams trade strength for speed; used by tests and throwaway
// signer keys.
var LightKeystoreParams = KeystoreParams{ScryptN: keystore.LightScryptN, ScryptP: keystore.LightScryptP}

// SaveToKeystore writes the provided private key to an Ethereum v3 keystore file at the given path.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return SaveToKeystoreWithParams(path, key, passphrase, StandardKeystoreParams)
}

// SaveToKeystoreWithParams is SaveToKeystore with an explicit scrypt cost.
// If the parent directory does not exist it will be created with 0700 permissions.
func SaveToKeystoreWithParams(path string, key *PrivateKey, passphrase string, params KeystoreParams) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if params.ScryptN <= 0 || params.ScryptP <= 0 {
		params = StandardKeystoreParams
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, params.ScryptN, params.ScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
