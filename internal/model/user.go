package model

import "time"

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. The json tags are omitted here because these structs
// are primarily used internally by the repository layer; handlers
// may define separate response types with appropriate JSON tags.
//
// Fields:
//  ID             – primary key identifier of the user.
//  Email          – unique email address.
//  EmailConfirmed – whether the address has been verified; proposing a
//                   consumer requires a confirmed address.
//  PasswordHash   – bcrypt hashed password.
//  Role           – name of the role (USER, ADMIN or STEWARD).
//  Blocked        – whether the account is blocked from acting.
//  CreatedAt      – timestamp of creation.
//  UpdatedAt      – timestamp of last update.
type User struct {
	ID             uint64    // users.id
	Email          string    // users.email
	EmailConfirmed bool      // users.email_confirmed
	PasswordHash   string    // users.password_hash
	Role           string    // users.role
	Blocked        bool      // users.blocked
	CreatedAt      time.Time // users.created_at
	UpdatedAt      time.Time // users.updated_at
}
