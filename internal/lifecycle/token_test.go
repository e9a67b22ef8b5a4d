package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/provly/consumer-gateway/internal/model"
)

func sampleConsumer() *model.Consumer {
	return &model.Consumer{
		ID:          1,
		ConsumerKey: "abcdef0123456789abcdef0123456789",
		SecretKey:   "secret",
		Name:        "Widget",
		Version:     "1.0.0",
		Description: "does things",
		Email:       "dev@example.org",
		Wiki:        model.WikiWildcard,
		GrantType:   "normal",
		Grants:      []string{"basic", "editpage"},
		Stage:       model.StageProposed,
	}
}

func TestChangeTokenIsStable(t *testing.T) {
	a := sampleConsumer()
	b := sampleConsumer()
	assert.Equal(t, ChangeToken(a), ChangeToken(b))
	assert.Len(t, ChangeToken(a), 64)
}

func TestChangeTokenTracksMutableFields(t *testing.T) {
	base := ChangeToken(sampleConsumer())

	mutations := map[string]func(*model.Consumer){
		"stage":        func(c *model.Consumer) { c.Stage = model.StageApproved },
		"secret":       func(c *model.Consumer) { c.SecretKey = "rotated" },
		"description":  func(c *model.Consumer) { c.Description = "other" },
		"deleted":      func(c *model.Consumer) { c.Deleted = true },
		"grants":       func(c *model.Consumer) { c.Grants = []string{"basic"} },
		"restrictions": func(c *model.Consumer) { c.Restrictions.IPAddresses = []string{"10.0.0.0/8"} },
		"rsa key":      func(c *model.Consumer) { c.RSAKey = "-----BEGIN PUBLIC KEY-----" },
	}
	for name, mutate := range mutations {
		c := sampleConsumer()
		mutate(c)
		assert.NotEqual(t, base, ChangeToken(c), "mutating %s must change the token", name)
	}
}

func TestChangeTokenFieldBoundaries(t *testing.T) {
	// Length prefixing keeps adjacent fields from bleeding into each
	// other: ("ab","c") and ("a","bc") must not produce the same token.
	a := sampleConsumer()
	a.Name, a.Version = "ab", "c"
	b := sampleConsumer()
	b.Name, b.Version = "a", "bc"
	assert.NotEqual(t, ChangeToken(a), ChangeToken(b))
}

func TestChangeTokenIgnoresIdentityAndTimestamps(t *testing.T) {
	a := sampleConsumer()
	b := sampleConsumer()
	b.ID = 99
	assert.Equal(t, ChangeToken(a), ChangeToken(b))
}

func TestTokenEqual(t *testing.T) {
	tok := ChangeToken(sampleConsumer())
	assert.True(t, TokenEqual(tok, tok))
	assert.False(t, TokenEqual(tok, ChangeToken(&model.Consumer{Name: "other"})))
	assert.False(t, TokenEqual("", tok))
	assert.False(t, TokenEqual(tok, ""))
	assert.False(t, TokenEqual("", ""))
}
