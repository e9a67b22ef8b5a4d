package lifecycle

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/provly/consumer-gateway/internal/model"
)

// ChangeToken derives the optimistic-concurrency token from a
// consumer's current mutable field state. Every stage-mutating action
// requires the caller to present the token computed from the record as
// they last read it, turning each mutation into a compare-and-swap.
//
// The serialization is length-prefixed per field so no two distinct
// field states collide, and versioned so the scheme can evolve without
// silently accepting stale tokens.
func ChangeToken(c *model.Consumer) string {
	restr, _ := c.Restrictions.MarshalColumn()
	fields := []string{
		"v1",
		c.ConsumerKey,
		c.SecretKey,
		c.Name,
		c.Version,
		c.Description,
		c.Email,
		c.Wiki,
		c.CallbackURL,
		boolField(c.CallbackIsPrefix),
		c.RSAKey,
		c.GrantType,
		strings.Join(c.Grants, "\n"),
		string(restr),
		string(c.Stage),
		boolField(c.Deleted),
		boolField(c.OwnerOnly),
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%d:%s;", len(f), f)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// TokenEqual compares two change tokens in constant time. Empty
// tokens never match anything.
func TokenEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
