package models

import "time"

// AuthResult is returned by register, login and change-password.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// MessageResult carries a human-readable outcome with no other data.
type MessageResult struct {
	Message string `json:"message"`
}
