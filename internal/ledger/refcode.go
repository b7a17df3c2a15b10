package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
)

// MaxReferenceCodeLength is the number of hex digits in a random uuid.
const MaxReferenceCodeLength = 32

// ReferenceCodeGenerator produces short random codes that correlate the two log
// entries of a transfer.
type ReferenceCodeGenerator struct{}

func NewReferenceCodeGenerator() *ReferenceCodeGenerator { return &ReferenceCodeGenerator{} }

// Generate returns the last length hex digits of a random uuid, uppercased.
func (g *ReferenceCodeGenerator) Generate(length int) (string, error) {
	if length < 1 || length > MaxReferenceCodeLength {
		return "", fmt.Errorf("%w: cannot generate reference code with length %d", domain.ErrInvalidArgument, length)
	}
	id := uuid.New()
	code := strings.ToUpper(hex.EncodeToString(id[:]))
	return code[MaxReferenceCodeLength-length:], nil
}
