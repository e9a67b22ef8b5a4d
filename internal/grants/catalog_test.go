package grants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandAuthOnlyIsEmpty(t *testing.T) {
	out, err := DefaultCatalog().Expand(BundleAuthOnly, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExpandAllCoversEveryCapability(t *testing.T) {
	c := DefaultCatalog()
	out, err := c.Expand(BundleAll, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "editpage")
	assert.Contains(t, out, "basic")
	assert.True(t, c.Validate(out))
}

func TestExpandNormalUnionsHiddenGrants(t *testing.T) {
	out, err := DefaultCatalog().Expand(BundleNormal, []string{"editpage", "editpage", "sendemail"})
	require.NoError(t, err)
	assert.Equal(t, []string{"basic", "editpage", "sendemail"}, out)
}

func TestExpandNormalEmptySelection(t *testing.T) {
	out, err := DefaultCatalog().Expand(BundleNormal, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"basic"}, out)
}

func TestExpandRejectsUnknownInput(t *testing.T) {
	c := DefaultCatalog()
	_, err := c.Expand(BundleNormal, []string{"launchmissiles"})
	assert.Error(t, err)
	_, err = c.Expand("premium", nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := NewCatalog([]string{"read", "write"}, []string{"ping"})
	assert.True(t, c.Validate([]string{"read", "ping"}))
	assert.False(t, c.Validate([]string{"read", "admin"}))
	assert.Equal(t, []string{"ping"}, c.Hidden())
}
