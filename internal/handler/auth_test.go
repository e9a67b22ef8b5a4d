package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationRole(t *testing.T) {
	// By default every self-registered account is a plain USER, no
	// matter what role the request claims.
	assert.Equal(t, "USER", registrationRole(false, "ADMIN"))
	assert.Equal(t, "USER", registrationRole(false, "STEWARD"))
	assert.Equal(t, "USER", registrationRole(false, "USER"))
	assert.Equal(t, "USER", registrationRole(false, ""))

	// Deployments that opt in may mint elevated accounts directly.
	assert.Equal(t, "ADMIN", registrationRole(true, "admin"))
	assert.Equal(t, "STEWARD", registrationRole(true, " steward "))
	assert.Equal(t, "USER", registrationRole(true, "ROOT"))
	assert.Equal(t, "USER", registrationRole(true, ""))
}
