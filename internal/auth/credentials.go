package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// User represents an authenticated operator
type User struct {
	Username string `json:"username"`
}

// Credentials checks logins against the single configured operator account
type Credentials struct {
	username []byte
	password []byte
}

// NewCredentials creates an authenticator for username/password
func NewCredentials(username, password string) *Credentials {
	return &Credentials{
		username: []byte(username),
		password: []byte(password),
	}
}

// Authenticate verifies username and password.
// Both comparisons always run so timing does not reveal which one failed.
func (c *Credentials) Authenticate(username, password string) (*User, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), c.username)
	passOK := subtle.ConstantTimeCompare([]byte(password), c.password)
	if userOK&passOK != 1 || len(c.username) == 0 {
		return nil, ErrInvalidCredentials
	}
	return &User{Username: username}, nil
}
