package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "chaptervault"
	keyringPrefix  = "ntfy_"
	// keyringIndex lists stored account names; go-keyring cannot enumerate
	keyringIndex = "index"
)

// KeyringStore implements CredentialStore using the system keychain
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore creates a new keyring-based credential store
func NewKeyringStore() (*KeyringStore, error) {
	// Test if keyring is available
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Store saves credentials to the system keychain
func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(keyringService, keyringPrefix+account.Name, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(func(names map[string]bool) { names[account.Name] = true })
}

// Retrieve gets credentials from the system keychain
func (k *KeyringStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringPrefix+name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &account, nil
}

// List returns the accounts named in the keyring index
func (k *KeyringStore) List() ([]*Account, error) {
	k.mu.Lock()
	names, err := k.readIndex()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	accounts := make([]*Account, 0, len(sorted))
	for _, name := range sorted {
		account, err := k.Retrieve(name)
		if err != nil {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Delete removes credentials from the system keychain
func (k *KeyringStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Delete(keyringService, keyringPrefix+name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(func(names map[string]bool) { delete(names, name) })
}

// Exists checks if credentials exist in the keychain
func (k *KeyringStore) Exists(name string) bool {
	if name == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+name)
	return err == nil
}

func (k *KeyringStore) readIndex() (map[string]bool, error) {
	names := make(map[string]bool)
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	for _, name := range list {
		names[name] = true
	}
	return names, nil
}

func (k *KeyringStore) updateIndex(change func(map[string]bool)) error {
	names, err := k.readIndex()
	if err != nil {
		return err
	}
	change(names)

	list := make([]string, 0, len(names))
	for name := range names {
		list = append(list, name)
	}
	sort.Strings(list)

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring index: %w", err)
	}
	return nil
}

// IsKeyringAvailable reports whether the system keychain accepts writes
func IsKeyringAvailable() bool {
	_, err := NewKeyringStore()
	return err == nil
}
