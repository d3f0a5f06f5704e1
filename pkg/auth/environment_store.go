package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvLogin      = "COURSEDL_LOGIN"
	EnvPassword   = "COURSEDL_PASSWORD"
	EnvPassphrase = "COURSEDL_PASSPHRASE"
)

// EnvironmentStore is a read-only CredentialStore over COURSEDL_LOGIN and
// COURSEDL_PASSWORD
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. A non-empty login must match it.
func (e *EnvironmentStore) Retrieve(login string) (*Account, error) {
	envLogin := os.Getenv(EnvLogin)
	password := os.Getenv(EnvPassword)

	if envLogin == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}
	if login != "" && login != envLogin {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Login:        envLogin,
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
func (e *EnvironmentStore) Delete(login string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist for login
func (e *EnvironmentStore) Exists(login string) bool {
	_, err := e.Retrieve(login)
	return err == nil
}
