package otpcode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryAutoAdvance(t *testing.T) {
	var e Entry
	assert.False(t, e.Complete())

	e.Input(0, "1")
	assert.Equal(t, 1, e.Focus())
	e.Input(1, "2")
	e.Input(2, "3")
	assert.False(t, e.Complete())
	e.Input(3, "4")
	assert.True(t, e.Complete())
	assert.Equal(t, 3, e.Focus())
	assert.Equal(t, "1234", e.Code())
}

func TestEntryIgnoresNonDigits(t *testing.T) {
	var e Entry
	e.Input(0, "a")
	assert.Equal(t, "", e.Field(0))
	assert.Equal(t, 0, e.Focus())

	e.Input(0, "57")
	assert.Equal(t, "7", e.Field(0))
}

func TestEntryBackspaceRetreats(t *testing.T) {
	var e Entry
	e.Fill("123")
	assert.Equal(t, 3, e.Focus())

	e.Backspace(3)
	assert.Equal(t, 2, e.Focus())
	assert.Equal(t, "", e.Field(2))

	e.Backspace(2)
	assert.Equal(t, 1, e.Focus())
	assert.Equal(t, "", e.Field(1))
	assert.Equal(t, "1", e.Field(0))

	e.Backspace(0)
	e.Backspace(0)
	assert.Equal(t, 0, e.Focus())
	assert.Equal(t, "", e.Code())
}

func TestEntryCompleteOnlyWithAllFields(t *testing.T) {
	var e Entry
	for mask := 0; mask < 1<<Length; mask++ {
		e.Reset()
		filled := 0
		for i := 0; i < Length; i++ {
			if mask&(1<<i) != 0 {
				e.fields[i] = "9"
				filled++
			}
		}
		assert.Equal(t, filled == Length, e.Complete(), "mask %04b", mask)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("0000"))
	assert.False(t, Valid("123"))
	assert.False(t, Valid("12a4"))
	assert.False(t, Valid("12345"))
}

func TestIssuerRoundTrip(t *testing.T) {
	issuer := NewIssuer("server-secret", 5*time.Minute, "")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	code, err := issuer.Generate("+216201234567", now)
	require.NoError(t, err)
	assert.Len(t, code, Length)

	assert.True(t, issuer.Validate("+216201234567", code, now.Add(time.Minute)))
	assert.False(t, issuer.Validate("+216201234567", code, now.Add(time.Hour)))
}

func TestIssuerTestCode(t *testing.T) {
	issuer := NewIssuer("server-secret", time.Minute, "1234")
	assert.True(t, issuer.Validate("+216201234567", "1234", time.Now()))
	assert.False(t, issuer.Validate("+216201234567", "123", time.Now()))

	noBypass := NewIssuer("server-secret", time.Minute, "")
	code, err := noBypass.Generate("+216201234567", time.Now())
	require.NoError(t, err)
	if code != "1234" {
		assert.False(t, noBypass.Validate("+216201234567", "1234", time.Now()))
	}
}
