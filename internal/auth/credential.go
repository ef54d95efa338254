package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredential = errors.New("bad credential")

// Credential is how a user proves who they are: a password or a wallet.
type Credential interface {
	credential()
}

// Password is a username with a bcrypt hash.
type Password struct {
	Username string
	Hash     []byte
}

// Wallet is an externally owned address; signature checks happen upstream.
type Wallet struct {
	Address string
}

func (Password) credential() {}
func (Wallet) credential()   {}

func HashPassword(plain string) ([]byte, error) {
	if plain == "" {
		return nil, ErrBadCredential
	}
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// Verify checks a login attempt against the stored credential. For a
// Password, secret is the plaintext; for a Wallet, it is the claimed address.
func Verify(c Credential, secret string) error {
	switch v := c.(type) {
	case Password:
		if err := bcrypt.CompareHashAndPassword(v.Hash, []byte(secret)); err != nil {
			return ErrBadCredential
		}
		return nil
	case Wallet:
		if v.Address == "" || !strings.EqualFold(strings.TrimSpace(v.Address), strings.TrimSpace(secret)) {
			return ErrBadCredential
		}
		return nil
	default:
		return ErrBadCredential
	}
}
