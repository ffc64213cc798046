// Package credstore keeps the student's login pair on the client device,
// sealed under a key derived from a random device key. The device key sits
// unencrypted next to the database: whoever owns the device owns the
// credentials, and nothing here tries to defend against that.
package credstore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/eduportal/internal/crypto"
	"github.com/jmcleod/eduportal/internal/util"
	"github.com/jmcleod/eduportal/storage"
	boltstore "github.com/jmcleod/eduportal/storage/bbolt"
)

const (
	// DeviceKeyFile and DatabaseFile live in the data directory.
	DeviceKeyFile = "device.key"
	DatabaseFile  = "credentials.db"

	deviceKeySize = 32
	saltSize      = 16

	namespace     = "eduportal"
	recordType    = "credentials"
	recordID      = "default"
	recordVersion = 1
)

// ErrNotFound is returned by Load when no usable credentials are stored.
var ErrNotFound = errors.New("no stored credentials")

// Credentials is the student's login pair.
type Credentials struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Identifier) != "" && c.Secret != ""
}

// Store persists one set of credentials.
type Store interface {
	Save(Credentials) error
	Load() (Credentials, error)
	Clear() error
}

// DeviceStore is a Store sealing credentials with AES-256-GCM. The sealing
// key is an HKDF record key over an Argon2id master derived from the device
// key; a fresh salt is drawn on every Save and kept in the envelope.
type DeviceStore struct {
	repo      storage.Repository
	deviceKey *memguard.Enclave
	params    util.Argon2idParams
	logger    *slog.Logger
	closer    func() error
}

// Option configures a DeviceStore.
type Option func(*DeviceStore)

// WithKDFParams overrides the Argon2id parameters.
func WithKDFParams(p util.Argon2idParams) Option {
	return func(s *DeviceStore) { s.params = p }
}

// WithLogger sets the logger used to report discarded records.
func WithLogger(logger *slog.Logger) Option {
	return func(s *DeviceStore) { s.logger = logger }
}

// New returns a DeviceStore over repo. deviceKey must be 32 bytes; it is
// copied into a memguard enclave and the caller's slice is left untouched.
func New(repo storage.Repository, deviceKey []byte, opts ...Option) (*DeviceStore, error) {
	if len(deviceKey) != deviceKeySize {
		return nil, fmt.Errorf("device key must be %d bytes, got %d", deviceKeySize, len(deviceKey))
	}
	s := &DeviceStore{
		repo:      repo,
		deviceKey: memguard.NewEnclave(append([]byte(nil), deviceKey...)),
		params:    util.DefaultArgon2idParams(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenDir opens the bbolt database and device key in dir, creating both on
// first use.
func OpenDir(dir string, opts ...Option) (*DeviceStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	key, err := LoadOrCreateDeviceKey(filepath.Join(dir, DeviceKeyFile))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	repo, err := boltstore.NewRepositoryFromFile(filepath.Join(dir, DatabaseFile), nil)
	if err != nil {
		return nil, err
	}
	s, err := New(repo, key, opts...)
	if err != nil {
		repo.Close()
		return nil, err
	}
	s.closer = repo.Close
	return s, nil
}

// Close releases the underlying database when the store owns it.
func (s *DeviceStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// LoadOrCreateDeviceKey reads the hex encoded device key at path, generating
// and writing a new one when the file does not exist.
func LoadOrCreateDeviceKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(key) != deviceKeySize {
			return nil, fmt.Errorf("device key %s is corrupt", path)
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading device key: %w", err)
	}

	key, err := util.RandomBytes(deviceKeySize)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing device key: %w", err)
	}
	return key, nil
}

func aad() []byte {
	return icrypto.AADRecord(namespace, recordType, recordID, recordVersion)
}

func (s *DeviceStore) recordKey(salt []byte) ([]byte, error) {
	buf, err := s.deviceKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening device key: %w", err)
	}
	defer buf.Destroy()

	master, err := util.DeriveArgon2idKey(buf.Bytes(), salt, s.params)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(master)
	return icrypto.DeriveRecordKey(master, recordType)
}

// Save replaces the stored credentials.
func (s *DeviceStore) Save(creds Credentials) error {
	if !creds.Valid() {
		return errors.New("identifier and secret are required")
	}
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	defer util.WipeBytes(plaintext)

	salt, err := util.RandomBytes(saltSize)
	if err != nil {
		return err
	}
	key, err := s.recordKey(salt)
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)

	env, err := storage.SealRecord(key, plaintext, aad(), salt)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}
	return s.repo.Put(namespace, recordType, recordID, env)
}

// Load returns the stored credentials. A record that no longer decrypts,
// for example after the device key was replaced, counts as absent.
func (s *DeviceStore) Load() (Credentials, error) {
	env, err := s.repo.Get(namespace, recordType, recordID)
	if errors.Is(err, storage.ErrNotFound) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("reading credentials: %w", err)
	}

	key, err := s.recordKey(env.Salt)
	if err != nil {
		return Credentials{}, err
	}
	defer util.WipeBytes(key)

	plaintext, err := storage.OpenRecord(key, env, aad())
	if err != nil {
		s.logger.Warn("discarding undecryptable credentials", "error", err)
		return Credentials{}, ErrNotFound
	}
	defer util.WipeBytes(plaintext)

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil || !creds.Valid() {
		s.logger.Warn("discarding malformed credentials")
		return Credentials{}, ErrNotFound
	}
	return creds, nil
}

// Clear removes the stored credentials. Clearing an empty store is not an
// error.
func (s *DeviceStore) Clear() error {
	err := s.repo.Delete(namespace, recordType, recordID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}
