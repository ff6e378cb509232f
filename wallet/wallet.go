// Package wallet persists signing keys on disk, one JSON record per address.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrWalletNotFound   = errors.New("wallet not found")
	ErrCorruptRecord    = errors.New("corrupt wallet record")
	ErrInvalidKeyFormat = errors.New("invalid private key format")
)

// Wallet is a secret key together with the address derived from it.
type Wallet struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Create generates a fresh random wallet. It is not persisted until Save.
func Create() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return fromKey(key), nil
}

// Import derives a wallet from a hex encoded secret key, with or without the
// 0x prefix.
func Import(secret string) (*Wallet, error) {
	secret = strings.TrimSpace(secret)
	secret = strings.TrimPrefix(strings.TrimPrefix(secret, "0x"), "0X")

	key, err := crypto.HexToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
}

// SecretHex returns the 0x prefixed secret key. Callers must never log it.
func (w *Wallet) SecretHex() string {
	return hexutil.Encode(crypto.FromECDSA(w.PrivateKey))
}

// Key returns the lowercase hex address used as the storage key.
func (w *Wallet) Key() string {
	return NormalizeAddress(w.Address.Hex())
}

// NormalizeAddress lowercases an address so that every casing maps to the
// same record.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
