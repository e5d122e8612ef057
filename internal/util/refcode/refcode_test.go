package refcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := Generate()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(code, Prefix))
		assert.Len(t, code, len(Prefix)+6)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90)
}
