package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"chaptervault/pkg/config"
)

// Account holds the credentials for one notification endpoint
type Account struct {
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	LastModified time.Time `json:"last_modified"`
}

// BasicAuthHeader returns the value for an Authorization header
func (a *Account) BasicAuthHeader() string {
	token := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	return "Basic " + token
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific account name
	Retrieve(name string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific account name
	Delete(name string) error

	// Exists checks if credentials exist for an account name
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager: system keyring first, then an
// encrypted file in the data directory, then environment variables
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over explicit stores, in priority order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return errors.New("account name is required")
	}
	if account.Username == "" {
		return errors.New("username is required")
	}
	if account.Password == "" {
		return errors.New("password is required")
	}

	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// RetrieveDefault returns the named account when name is set, otherwise the
// environment account or the first stored one
func (m *Manager) RetrieveDefault(name string) (*Account, error) {
	if name != "" {
		return m.Retrieve(name)
	}

	for _, store := range m.stores {
		if envStore, ok := store.(*EnvironmentStore); ok {
			if account, err := envStore.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts from all stores, sorted by name
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Name] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}
	return nil
}

// getConfigDir returns the directory holding the encrypted credential file
func getConfigDir() (string, error) {
	dir := config.DataDirectory()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// SanitizeAccount creates a copy of the account with the password masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Name:         account.Name,
		Username:     account.Username,
		Password:     maskString(account.Password),
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 2 and last 2 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:2] + "..." + s[len(s)-2:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
