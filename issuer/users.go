package issuer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for an unknown user or a wrong password.
var ErrBadCredentials = errors.New("bad credentials")

// dummyPasswordHash keeps rejection of unknown users as slow as a wrong password.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// UserAuthenticator verifies resource owner credentials for the password grant.
type UserAuthenticator interface {
	// Authenticate returns the principal name for valid credentials or ErrBadCredentials.
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// StaticUsers is a UserAuthenticator over a fixed set of bcrypt-hashed passwords.
// It is safe for concurrent use.
type StaticUsers struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewStaticUsers returns an empty user set.
func NewStaticUsers() *StaticUsers {
	return &StaticUsers{hashes: make(map[string][]byte)}
}

// AddUser hashes password and stores it for username, replacing any previous entry.
func (u *StaticUsers) AddUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password for %s: %w", username, err)
	}
	return u.AddUserHash(username, string(hash))
}

// AddUserHash stores an existing bcrypt hash for username.
func (u *StaticUsers) AddUserHash(username, hash string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid password hash for %s: %w", username, err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hashes[username] = []byte(hash)
	return nil
}

// Authenticate implements UserAuthenticator.
func (u *StaticUsers) Authenticate(_ context.Context, username, password string) (string, error) {
	u.mu.RLock()
	hash, ok := u.hashes[username]
	u.mu.RUnlock()

	if !ok {
		hash = []byte(dummyPasswordHash)
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !ok || err != nil {
		return "", ErrBadCredentials
	}
	return username, nil
}
