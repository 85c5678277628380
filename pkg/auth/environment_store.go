package auth

import (
	"os"
	"time"
)

const (
	envUsername = "CHAPTERVAULT_NTFY_USERNAME"
	envPassword = "CHAPTERVAULT_NTFY_PASSWORD"
)

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and holds at most one account.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables. The account takes
// whatever name is asked for, or "default".
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	username := os.Getenv(envUsername)
	password := os.Getenv(envPassword)

	if username == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = "default"
	}

	return &Account{
		Name:         name,
		Username:     username,
		Password:     password,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(envUsername) != "" && os.Getenv(envPassword) != ""
}
