package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"

	"github.com/lifinance/evm-signer-mcp/config"
)

const recordExt = ".json"

// Record is the on-disk shape of a wallet. Exactly one of PrivateKey and
// EncryptedData is populated, selected by Encrypted.
type Record struct {
	Address       string  `json:"address"`
	PrivateKey    string  `json:"privateKey"`
	Encrypted     bool    `json:"encrypted"`
	EncryptedData *string `json:"encryptedData"`
}

// Store is a directory of wallet records. It holds no mutable state, so a
// single Store may be shared freely; concurrent writers to one address are
// not coordinated and the last write wins.
type Store struct {
	dir      string
	encrypt  bool
	password string
	scryptN  int
	scryptP  int
	logger   *slog.Logger
}

// NewStore opens the key directory described by cfg, creating it if needed.
func NewStore(cfg config.KeysConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Encrypt && cfg.Password == "" {
		return nil, errors.New("password is required when encryption is enabled")
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	s := &Store{
		dir:      cfg.Path,
		encrypt:  cfg.Encrypt,
		password: cfg.Password,
		scryptN:  keystore.StandardScryptN,
		scryptP:  keystore.StandardScryptP,
		logger:   logger.With("component", "wallet-store"),
	}
	if cfg.LightKDF {
		s.scryptN = keystore.LightScryptN
		s.scryptP = keystore.LightScryptP
	}
	return s, nil
}

// Encrypted reports whether records are encrypted at rest.
func (s *Store) Encrypted() bool {
	return s.encrypt
}

func (s *Store) path(address string) string {
	return filepath.Join(s.dir, NormalizeAddress(address)+recordExt)
}

// Save writes the record for w, replacing any existing one.
func (s *Store) Save(w *Wallet) error {
	record := Record{Address: w.Key()}

	if s.encrypt {
		keyJSON, err := keystore.EncryptKey(&keystore.Key{
			Id:         uuid.New(),
			Address:    w.Address,
			PrivateKey: w.PrivateKey,
		}, s.password, s.scryptN, s.scryptP)
		if err != nil {
			return fmt.Errorf("failed to encrypt key: %w", err)
		}
		data := string(keyJSON)
		record.Encrypted = true
		record.EncryptedData = &data
	} else {
		record.PrivateKey = w.SecretHex()
	}

	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := os.WriteFile(s.path(record.Address), body, 0o600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.logger.Info("Wallet saved", "address", record.Address, "encrypted", record.Encrypted)
	return nil
}

// List returns the addresses of all stored wallets. Order is unspecified.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	addresses := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		addresses = append(addresses, strings.TrimSuffix(entry.Name(), recordExt))
	}
	return addresses, nil
}

// Lookup reads and unlocks the wallet stored for address. The error tells a
// missing record apart from one that exists but cannot be used.
func (s *Store) Lookup(address string) (*Wallet, error) {
	normalized := NormalizeAddress(address)

	body, err := os.ReadFile(s.path(normalized))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	if record.Encrypted {
		if record.EncryptedData == nil || *record.EncryptedData == "" {
			return nil, fmt.Errorf("%w: encrypted wallet missing encryptedData: %s", ErrCorruptRecord, normalized)
		}
		key, err := keystore.DecryptKey([]byte(*record.EncryptedData), s.password)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt wallet %s: %w", normalized, err)
		}
		return fromKey(key.PrivateKey), nil
	}

	if record.PrivateKey == "" {
		return nil, fmt.Errorf("%w: wallet missing privateKey: %s", ErrCorruptRecord, normalized)
	}
	w, err := Import(record.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return w, nil
}

// Load is Lookup with every failure reported as absence. Unreadable records
// are logged so that a wrong password does not go unnoticed entirely.
func (s *Store) Load(address string) *Wallet {
	w, err := s.Lookup(address)
	if err != nil {
		if !errors.Is(err, ErrWalletNotFound) {
			s.logger.Warn("Failed to load wallet", "address", NormalizeAddress(address), "error", err)
		}
		return nil
	}
	return w
}
