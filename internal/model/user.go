package model

import "time"

// User is an identity-provider account. The tokens authorize record store calls.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	IDToken      string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"-"`
}
