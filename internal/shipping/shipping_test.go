package shipping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"pickup":        ModePickup,
		" MX ":          ModeDomestic,
		"domestic":      ModeDomestic,
		"us":            ModeInternational,
		"International": ModeInternational,
	}
	for raw, want := range tests {
		got, err := ParseMode(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseMode("drone")
	require.Error(t, err)
}

func TestModeRegion(t *testing.T) {
	assert.Equal(t, "MX", ModeDomestic.CountryCode())
	assert.Equal(t, "US", ModeInternational.CountryCode())
	assert.True(t, ModePickup.Domestic())
	assert.False(t, ModeInternational.Domestic())
}

func TestNormalizePostalCode(t *testing.T) {
	assert.Equal(t, "44100", NormalizePostalCode(" 44 100 "))
	assert.Equal(t, "902101234", NormalizePostalCode("90210-1234"))
	assert.Equal(t, "", NormalizePostalCode("abc"))
	assert.Equal(t, "", NormalizePostalCode("٤٤١٠٠"))

	dest := NewDestination(ModeInternational, "CP 90210")
	assert.Equal(t, Destination{CountryCode: "US", PostalCode: "90210"}, dest)
	assert.True(t, dest.Valid())
	assert.False(t, NewDestination(ModeDomestic, "--").Valid())
}

func TestDefaultOriginIsValid(t *testing.T) {
	origin := DefaultOrigin()
	assert.Equal(t, "MX", origin.Facility.Country)
	assert.GreaterOrEqual(t, origin.Package.MinWeightKg, 1.0)

	rate, ok := origin.FallbackFor(ModeDomestic)
	require.True(t, ok)
	assert.Equal(t, int64(19900), rate.Amount)

	_, ok = origin.FallbackFor(ModePickup)
	assert.False(t, ok)
}

func TestLoadOriginFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origin.yaml")
	content := []byte(`
facility: {country: MX, postalCode: "01000"}
package: {lengthCm: 10, widthCm: 10, heightCm: 10, minWeightKg: 2}
fallback:
  mx: {amount: 15000, carrier: Local, eta: 2 days}
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	origin, err := LoadOrigin(path)
	require.NoError(t, err)
	assert.Equal(t, "01000", origin.Facility.PostalCode)
	assert.Equal(t, 2.0, origin.Package.MinWeightKg)

	_, err = ParseOrigin([]byte(`package: {lengthCm: 0}`))
	require.Error(t, err)
}
