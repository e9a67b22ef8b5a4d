package model

import "time"

// Acceptance models a row in the `oauth_acceptances` table: the grant
// of one user's authority to one consumer on one wiki, together with
// the access credential issued for that grant. At most one live
// acceptance exists per (user, consumer, wiki); rotating credentials
// updates the row in place rather than inserting a second one.
//
// AccessSecretHash holds the SHA-256 hex digest of the access-token
// secret; the plain secret is handed to the consumer exactly once at
// exchange time and never stored.
type Acceptance struct {
	ID               uint64
	UserID           uint64
	ConsumerID       uint64
	Wiki             string
	AccessKey        string
	AccessSecretHash string
	Grants           []string
	Accepted         time.Time
	OAuthVersion     int
}
