package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("accepts international format", func(t *testing.T) {
		c, err := Normalize("+254723278526", "+254")
		require.NoError(t, err)
		assert.Equal(t, "+254723278526", c.E164)
		assert.Equal(t, "KE", c.Country)
		assert.NotEmpty(t, c.International)
	})

	t.Run("rewrites national leading zero", func(t *testing.T) {
		c, err := Normalize("0723278526", "+254")
		require.NoError(t, err)
		assert.Equal(t, "+254723278526", c.E164)
	})

	t.Run("adds plus to long digit runs", func(t *testing.T) {
		c, err := Normalize("254723278526", "+254")
		require.NoError(t, err)
		assert.Equal(t, "+254723278526", c.E164)
	})

	t.Run("strips formatting characters", func(t *testing.T) {
		c, err := Normalize(" +254 (723) 278-526 ", "+254")
		require.NoError(t, err)
		assert.Equal(t, "+254723278526", c.E164)
	})

	t.Run("falls back to digit count for unparseable numbers", func(t *testing.T) {
		// +999 is not an allocated country code, so the parser
		// rejects it; the loose validator still accepts it.
		c, err := Normalize("+99912345678", "+254")
		require.NoError(t, err)
		assert.Equal(t, "+99912345678", c.E164)
		assert.Empty(t, c.Country)
	})

	t.Run("rejects non-numeric input", func(t *testing.T) {
		_, err := Normalize("abc", "+254")
		require.Error(t, err)
		var ipe *InvalidPhoneError
		assert.ErrorAs(t, err, &ipe)
	})

	t.Run("rejects too few digits", func(t *testing.T) {
		_, err := Normalize("12345", "+254")
		assert.Error(t, err)
	})

	t.Run("rejects too many digits", func(t *testing.T) {
		_, err := Normalize("+9991234567890123456", "+254")
		assert.Error(t, err)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := Normalize("   ", "+254")
		assert.Error(t, err)
	})
}

func TestStripPhone(t *testing.T) {
	assert.Equal(t, "+254723278526", stripPhone("+254 723 278 526"))
	assert.Equal(t, "0723278526", stripPhone("07-23-27-85-26"))
	assert.Equal(t, "", stripPhone("call me"))
}
