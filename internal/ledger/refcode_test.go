package ledger

import (
	"regexp"
	"testing"

	"account-ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upperHex = regexp.MustCompile(`^[0-9A-F]+$`)

func TestReferenceCodeGenerator_Lengths(t *testing.T) {
	g := NewReferenceCodeGenerator()
	for _, n := range []int{1, 8, 20, 32} {
		code, err := g.Generate(n)
		require.NoError(t, err)
		assert.Len(t, code, n)
		assert.NotContains(t, code, "-")
		assert.Regexp(t, upperHex, code)
	}
}

func TestReferenceCodeGenerator_RejectsOutOfRange(t *testing.T) {
	g := NewReferenceCodeGenerator()
	for _, n := range []int{-1, 0, 33} {
		_, err := g.Generate(n)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, "length %d", n)
	}
}

func TestReferenceCodeGenerator_Unique(t *testing.T) {
	g := NewReferenceCodeGenerator()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code, err := g.Generate(20)
		require.NoError(t, err)
		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}
