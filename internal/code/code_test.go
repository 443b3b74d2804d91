package code

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		c := Generate()
		require.Len(t, c, Length)
		for _, r := range c {
			require.True(t, r >= '0' && r <= '9' || r >= 'a' && r <= 'f', "code %q contains %q", c, r)
		}
		assert.Equal(t, c, url.QueryEscape(c), "code is not URL safe")
	}
}

func TestGenerateDistinct(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		seen[Generate()] = struct{}{}
	}
	// 32 random bits; allow a single birthday collision
	assert.GreaterOrEqual(t, len(seen), 999)
}
