package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	assert.Equal(t, "change_conflict: stale token", E(KindChangeConflict, "stale token").Error())
	assert.Equal(t, "readonly", E(KindReadOnly, "").Error())
}

func TestKindOf(t *testing.T) {
	err := E(KindNotApproved, "stage is PROPOSED")
	assert.Equal(t, KindNotApproved, KindOf(err))
	assert.True(t, IsKind(err, KindNotApproved))
	assert.False(t, IsKind(err, KindNotProposed))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOfSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", E(KindPermissionDenied, "no cap"))
	assert.Equal(t, KindPermissionDenied, KindOf(err))
}

func TestErrorsIsMatchesOnKind(t *testing.T) {
	err := E(KindExpiredToken, "token lapsed at noon")
	assert.True(t, errors.Is(err, E(KindExpiredToken, "")))
	assert.False(t, errors.Is(err, E(KindInvalidVerifier, "")))
}

func TestStorageWrapsCause(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := Storage(cause)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, Storage(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("no local account")
	err := Wrap(KindInvalidUser, "identity hook rejected the user", cause)
	assert.Equal(t, KindInvalidUser, KindOf(err))
	assert.True(t, errors.Is(err, cause))
}
