package ledger

import (
	"fmt"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
)

// Authorizer grants read and debit access to the account owner only.
// Crediting an account is never checked.
type Authorizer struct{}

func NewAuthorizer() *Authorizer { return &Authorizer{} }

func (a *Authorizer) EnsureReadAccess(acc domain.Account, userID uuid.UUID) error {
	if acc.OwnerID != userID {
		return fmt.Errorf("%w: user %s cannot read account %s", domain.ErrNotAuthorized, userID, acc.ID)
	}
	return nil
}

func (a *Authorizer) EnsureDebitAccess(acc domain.Account, userID uuid.UUID) error {
	if acc.OwnerID != userID {
		return fmt.Errorf("%w: user %s cannot deduct from account %s", domain.ErrNotAuthorized, userID, acc.ID)
	}
	return nil
}
