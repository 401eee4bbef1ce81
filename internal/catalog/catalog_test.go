package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datashop/internal/common/money"
)

func TestDefaultPerGBPricing(t *testing.T) {
	c := Default()

	price, err := c.Lookup("MTN", "5GB")
	require.NoError(t, err)
	assert.Equal(t, int64(2650), price.AmountMinor)

	price, err = c.Lookup("TIGO ISHARE", "30GB")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), price.AmountMinor)
}

func TestDefaultFixedTables(t *testing.T) {
	c := Default()

	price, err := c.Lookup("TIGO BIG-TIME", "100GB")
	require.NoError(t, err)
	assert.Equal(t, int64(21000), price.AmountMinor)

	price, err = c.Lookup("TELECEL", "5GB")
	require.NoError(t, err)
	assert.Equal(t, int64(2450), price.AmountMinor)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	c := Default()

	price, err := c.Lookup("mtn", "5gb")
	require.NoError(t, err)
	assert.Equal(t, int64(2650), price.AmountMinor)

	price, err = c.Lookup("  telecel ", "10GB")
	require.NoError(t, err)
	assert.Equal(t, int64(4500), price.AmountMinor)
}

func TestLookupUnknownProduct(t *testing.T) {
	c := Default()

	_, err := c.Lookup("VODAFONE", "5GB")
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = c.Lookup("MTN", "31GB")
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = c.Lookup("TIGO BIG-TIME", "1GB")
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestNetworksKeepCatalogOrder(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{"MTN", "TIGO ISHARE", "TIGO BIG-TIME", "TELECEL"}, c.Networks())
}

func TestMembershipPrice(t *testing.T) {
	assert.Equal(t, money.New(800, money.GHS), MembershipPrice)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	content := `{
		"MTN": [
			{"name": "1GB", "price_minor": 600},
			{"name": "2GB", "price_minor": 1200}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	price, err := c.Lookup("MTN", "2GB")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), price.AmountMinor)

	_, err = c.Lookup("TELECEL", "5GB")
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestLoadRejectsNonPositivePrice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"MTN": [{"name": "1GB", "price_minor": 0}]}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
