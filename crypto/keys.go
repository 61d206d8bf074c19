package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseAddress decodes a 0x-prefixed hex account address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the account address controlled by the key.
func (k *PrivateKey) Address() common.Address {
	return k.PubKey().Address()
}

func (k *PublicKey) Address() common.Address {
	return crypto.PubkeyToAddress(*k.PublicKey)
}

// SignHash signs a 32-byte digest. The recovery id is returned in the 27/28
// form wallets produce.
func (k *PrivateKey) SignHash(hash common.Hash) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(hash.Bytes(), k.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignMessage signs the EIP-191 text hash of digest.
func (k *PrivateKey) SignMessage(digest []byte) ([]byte, error) {
	return k.SignHash(TextHash(digest))
}

// TextHash wraps digest in the EIP-191 personal message envelope.
func TextHash(digest []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(digest))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex encoded secp256k1 key with or without 0x.
func PrivateKeyFromHex(value string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
