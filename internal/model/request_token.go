package model

import "time"

// TokenStatus tracks a request token through the three-legged
// handshake. Transitions only move forward: ISSUED when minted,
// AUTHORIZED once the user approves, EXCHANGED once the consumer has
// redeemed it for the access token. Each transition is a
// compare-and-swap on the status column so concurrent calls on the
// same token yield at most one success.
type TokenStatus string

const (
	TokenIssued     TokenStatus = "ISSUED"
	TokenAuthorized TokenStatus = "AUTHORIZED"
	TokenExchanged  TokenStatus = "EXCHANGED"
)

// RequestToken is a single-use protocol credential bound to a
// consumer. The provisional access key/secret pair is attached at
// authorize time and handed out at exchange time; AccessSecret is the
// only place the plain access secret ever lives, and the row is dead
// (EXCHANGED) the moment it is released.
type RequestToken struct {
	ID           uint64
	ConsumerID   uint64
	TokenKey     string
	TokenSecret  string
	Callback     string
	Verifier     string
	AccessKey    string
	AccessSecret string
	UserID       uint64
	Status       TokenStatus
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether the token's validity window has passed.
func (t *RequestToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
