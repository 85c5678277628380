package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated passphrase file
const PassphraseEnv = "CHAPTERVAULT_PASSPHRASE"

const (
	vaultVersion   = 2
	vaultSaltSize  = 16
	vaultKeySize   = 32
	vaultKDFRounds = 100000
	passphraseName = ".passphrase"
)

// ErrVaultLocked is returned when the credential file cannot be decrypted
// with the current passphrase
var ErrVaultLocked = errors.New("credential file cannot be decrypted with this passphrase")

// vault is the on-disk form of the credential file. Sealed holds the JSON
// account map encrypted with AES-GCM under a PBKDF2 key from Salt.
type vault struct {
	Version int       `json:"version"`
	Salt    []byte    `json:"salt"`
	Nonce   []byte    `json:"nonce"`
	Sealed  []byte    `json:"sealed"`
	SavedAt time.Time `json:"saved_at"`
}

// EncryptedFileStore keeps ntfy accounts in one encrypted file. Every
// operation reads the file under a flock, so several chaptervault processes
// may share it.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	fileLock   *flock.Flock
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the credential file at path. The passphrase
// comes from CHAPTERVAULT_PASSPHRASE or a generated .passphrase file next to it.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	passphrase, err := loadPassphrase(dir)
	if err != nil {
		return nil, err
	}

	return &EncryptedFileStore{
		path:       path,
		passphrase: passphrase,
		fileLock:   flock.New(path + ".lock"),
	}, nil
}

// Store adds or replaces the account with the same name
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(accounts map[string]Account) error {
		accounts[account.Name] = *account
		return nil
	})
}

// Retrieve returns the named account
func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}
	accounts, err := e.view()
	if err != nil {
		return nil, err
	}
	account, ok := accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

// List returns every account sorted by name
func (e *EncryptedFileStore) List() ([]*Account, error) {
	accounts, err := e.view()
	if err != nil {
		return nil, err
	}
	list := make([]*Account, 0, len(accounts))
	for name := range accounts {
		account := accounts[name]
		list = append(list, &account)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// Delete removes the named account. The file goes away with the last one.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(accounts map[string]Account) error {
		if _, ok := accounts[name]; !ok {
			return ErrCredentialsNotFound
		}
		delete(accounts, name)
		return nil
	})
}

// Exists reports whether the named account is stored
func (e *EncryptedFileStore) Exists(name string) bool {
	account, err := e.Retrieve(name)
	return err == nil && account != nil
}

func (e *EncryptedFileStore) view() (map[string]Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fileLock.RLock(); err != nil {
		return nil, fmt.Errorf("lock credential file: %w", err)
	}
	defer e.fileLock.Unlock()

	return e.read()
}

// update applies fn to the stored accounts and writes the result back while
// holding the exclusive file lock
func (e *EncryptedFileStore) update(fn func(map[string]Account) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.fileLock.Lock(); err != nil {
		return fmt.Errorf("lock credential file: %w", err)
	}
	defer e.fileLock.Unlock()

	accounts, err := e.read()
	if err != nil {
		return err
	}
	if err := fn(accounts); err != nil {
		return err
	}
	if len(accounts) == 0 {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove credential file: %w", err)
		}
		return nil
	}
	return e.write(accounts)
}

// read decrypts the credential file; a missing file holds no accounts
func (e *EncryptedFileStore) read() (map[string]Account, error) {
	accounts := make(map[string]Account)

	content, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		return accounts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("credential file version %d is not supported", v.Version)
	}

	gcm, err := e.cipher(v.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, v.Nonce, v.Sealed, nil)
	if err != nil {
		return nil, ErrVaultLocked
	}
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	return accounts, nil
}

// write seals accounts under a fresh salt and nonce and replaces the file
func (e *EncryptedFileStore) write(accounts map[string]Account) error {
	plain, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	v := vault{Version: vaultVersion, Salt: make([]byte, vaultSaltSize), SavedAt: time.Now()}
	if _, err := rand.Read(v.Salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := e.cipher(v.Salt)
	if err != nil {
		return err
	}
	v.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(v.Nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	v.Sealed = gcm.Seal(nil, v.Nonce, plain, nil)

	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), filepath.Base(e.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	// CreateTemp already uses 0600
	return os.Rename(tmp.Name(), e.path)
}

func (e *EncryptedFileStore) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, vaultKDFRounds, vaultKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// loadPassphrase prefers the environment and otherwise reads, or creates,
// the passphrase file in dir
func loadPassphrase(dir string) ([]byte, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return []byte(pass), nil
	}

	path := filepath.Join(dir, passphraseName)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return content, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(path, pass, 0o600); err != nil {
		return nil, fmt.Errorf("save passphrase: %w", err)
	}
	return pass, nil
}
