package domain

import (
	"time"
)

// Paste is the server-side record. Content is ciphertext produced by the
// client; the server never holds key material and cannot decrypt it.
type Paste struct {
	ID                string `json:"id"`
	Title             string `json:"title,omitempty"`
	Content           string `json:"content"`
	Language          string `json:"language"`
	CreatedAt         int64  `json:"createdAt"`
	ExpiresAt         *int64 `json:"expiresAt"`
	IV                string `json:"iv"`
	Salt              string `json:"salt,omitempty"`
	PasswordProtected bool   `json:"passwordProtected"`
	ViewCount         int64  `json:"viewCount"`
}

// Expired reports whether the record is logically nonexistent at now.
// The lazy delete-on-read path and the periodic sweep share this predicate.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && *p.ExpiresAt <= now.UnixMilli()
}

// CreateParams carries a create request. Password is only ever the
// client's "protected" marker, never a real password; the flag it sets
// is also implied by a salt being present.
type CreateParams struct {
	Title    string
	Content  string
	Language string
	Expiry   string
	IV       string
	Salt     string
	Password string
}
