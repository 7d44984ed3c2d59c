package token

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenUniqueAndOpaque(t *testing.T) {
	var iss Issuer
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := iss.NewToken()
		require.NoError(t, err)
		_, err = uuid.Parse(tok)
		require.NoError(t, err, "token must be a valid UUID: %s", tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestNewPinRange(t *testing.T) {
	var iss Issuer
	for i := 0; i < 1000; i++ {
		pin, err := iss.NewPin()
		require.NoError(t, err)
		require.Len(t, pin, 4)
		n, err := strconv.Atoi(pin)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1000)
		assert.LessOrEqual(t, n, 9999)
	}
}
