package crypto

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// WriteIdentity encrypts the key into a v3 keystore file so a party can keep
// its identity between CLI sessions. The file is written with 0600
// permissions; the parent directory is created with 0700.
func WriteIdentity(path string, key *PrivateKey, passphrase string) (Address, error) {
	if key == nil {
		return Address{}, errors.New("crypto: nil private key")
	}
	if path == "" {
		return Address{}, errors.New("crypto: empty keystore path")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return Address{}, err
	}
	ksKey := &keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key.PrivateKey,
	}
	encoded, err := keystore.EncryptKey(ksKey, passphrase, keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		return Address{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Address{}, err
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return Address{}, err
	}
	return key.PubKey().Address(), nil
}

// ReadIdentity decrypts a keystore written by WriteIdentity.
func ReadIdentity(path, passphrase string) (*PrivateKey, error) {
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
