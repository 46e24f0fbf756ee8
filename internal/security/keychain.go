package security

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeychainService is the service name used for storing passwords in the keychain
	KeychainService = "alis-bot"
)

// Keychain provides secure password storage using OS keychain
type Keychain struct {
	service string
}

// NewKeychain creates a new keychain instance
func NewKeychain() *Keychain {
	return &Keychain{service: KeychainService}
}

// StorePassword stores the server password of a network in the OS keychain
func (k *Keychain) StorePassword(network string, password string) error {
	if password == "" {
		// Empty password, delete instead
		return k.DeletePassword(network)
	}
	if err := keyring.Set(k.service, network, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword retrieves the server password of a network. A missing entry
// is not an error and yields "".
func (k *Keychain) GetPassword(network string) (string, error) {
	password, err := keyring.Get(k.service, network)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes the password of a network from the OS keychain
func (k *Keychain) DeletePassword(network string) error {
	if err := keyring.Delete(k.service, network); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}
