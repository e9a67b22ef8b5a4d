package model

import (
	"encoding/json"
	"time"
)

// Stage is the lifecycle state of a registered consumer application.
// Transitions between stages are owned by the lifecycle controller;
// nothing else may write this field.
type Stage string

const (
	StageProposed Stage = "PROPOSED"
	StageApproved Stage = "APPROVED"
	StageRejected Stage = "REJECTED"
	StageDisabled Stage = "DISABLED"
	StageExpired  Stage = "EXPIRED"
)

// WikiWildcard is the wiki field value meaning "valid on all sites".
const WikiWildcard = "*"

// Restrictions holds the free-form usage restrictions attached to a
// consumer. Today the only supported restriction is a source-IP
// allow-list; an empty list means unrestricted. The struct is stored
// as a JSON column so new restriction kinds can be added without a
// schema change.
type Restrictions struct {
	IPAddresses []string `json:"IPAddresses,omitempty"`
}

// MarshalColumn serializes restrictions for the restrictions column.
func (r Restrictions) MarshalColumn() ([]byte, error) { return json.Marshal(r) }

// ParseRestrictions decodes a restrictions column value. An empty
// string decodes to the zero value (no restrictions).
func ParseRestrictions(s string) (Restrictions, error) {
	var r Restrictions
	if s == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Restrictions{}, err
	}
	return r, nil
}

// Consumer represents a row in the `oauth_consumers` table: a
// third-party application registered for API access.
//
// Fields:
//  ID               – primary key identifier.
//  ConsumerKey      – public 32-hex-digit key used on the wire.
//  SecretKey        – shared secret for HMAC signature verification.
//  Name             – application name, unique per (owner, version).
//  Version          – semantic version string of the registration.
//  Description      – free-form description shown to users.
//  OwnerUserID      – user who proposed the consumer.
//  Email            – contact email; must match the proposer's confirmed address.
//  Wiki             – site the consumer is valid on, or WikiWildcard.
//  CallbackURL      – OAuth callback, exact or prefix per CallbackIsPrefix.
//  CallbackIsPrefix – when true the callback supplied at initiate time may
//                     extend CallbackURL instead of matching it exactly.
//  RSAKey           – optional PEM public key for RSA-SHA1 signatures.
//  GrantType        – symbolic grant-bundle tag (e.g. "normal", "authonly").
//  Grants           – resolved capability strings granted to the consumer.
//  Restrictions     – usage restrictions (IP allow-list).
//  Stage            – lifecycle stage, see the Stage constants.
//  StageTimestamp   – when the stage last changed.
//  Deleted          – suppression flag; hides the record from ordinary
//                     admins without removing it.
//  OwnerOnly        – self-authorizing consumer: proposal skips human
//                     approval and immediately issues the owner a token.
type Consumer struct {
	ID               uint64
	ConsumerKey      string
	SecretKey        string
	Name             string
	Version          string
	Description      string
	OwnerUserID      uint64
	Email            string
	Wiki             string
	CallbackURL      string
	CallbackIsPrefix bool
	RSAKey           string
	GrantType        string
	Grants           []string
	Restrictions     Restrictions
	Stage            Stage
	StageTimestamp   time.Time
	Deleted          bool
	OwnerOnly        bool
}

// Clone returns a deep copy safe to mutate while keeping the original
// for no-op comparison.
func (c *Consumer) Clone() *Consumer {
	cp := *c
	cp.Grants = append([]string(nil), c.Grants...)
	cp.Restrictions.IPAddresses = append([]string(nil), c.Restrictions.IPAddresses...)
	return &cp
}
