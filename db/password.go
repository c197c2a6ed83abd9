package db

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only looks at the first 72 bytes of its input.
const bcryptMaxPassword = 72

// PasswordHasher turns passwords into stored credentials and checks them.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(stored, password string) bool
}

// BcryptHasher stores salted bcrypt hashes. Passwords longer than bcrypt
// accepts are reduced to a base64 SHA-256 digest first.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h BcryptHasher) Compare(stored, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(password)) == nil
}

func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxPassword {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// PlainHasher stores passwords verbatim and authenticates on exact string
// equality. Only for compatibility with legacy stores; it is not safe.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) {
	return password, nil
}

func (PlainHasher) Compare(stored, password string) bool {
	return stored == password
}

// NewHasher maps a configuration value to a hasher.
func NewHasher(mode string) (PasswordHasher, error) {
	switch mode {
	case "", "bcrypt":
		return BcryptHasher{}, nil
	case "plain":
		return PlainHasher{}, nil
	}
	return nil, fmt.Errorf("unknown password hash mode %q", mode)
}
