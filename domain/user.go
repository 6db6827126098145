package domain

import (
	"errors"
	"time"
)

// ErrUserExists indicates an account with the same email is already stored.
var ErrUserExists = errors.New("user already exists")

// User is an account of the identity boundary.
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	EmailVerification bool      `json:"emailVerification"`
	CreatedAt         time.Time `json:"createdAt"`

	PasswordHash []byte `json:"-"`
}
