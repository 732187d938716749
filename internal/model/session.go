package model

import "time"

// Session is the identity bound to an opaque session token. The token itself
// is never stored; only its digest is used as the store key.
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// MagicLink is what a pending one-time login link resolves to.
type MagicLink struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}
