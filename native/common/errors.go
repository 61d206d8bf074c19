package common

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnauthorizedAccount is matched by AccountError values raised when the
	// caller lacks the role or identity an operation requires.
	ErrUnauthorizedAccount = errors.New("unauthorized account")
	// ErrBlacklistedAccount is matched by AccountError values raised when the
	// registry vetoes a participant.
	ErrBlacklistedAccount = errors.New("blacklisted account")
)

// AccountError ties an authorization failure to the offending account.
type AccountError struct {
	Kind    error
	Account ethcommon.Address
}

// Unauthorized builds an AccountError for ErrUnauthorizedAccount.
func Unauthorized(account ethcommon.Address) *AccountError {
	return &AccountError{Kind: ErrUnauthorizedAccount, Account: account}
}

// Blacklisted builds an AccountError for ErrBlacklistedAccount.
func Blacklisted(account ethcommon.Address) *AccountError {
	return &AccountError{Kind: ErrBlacklistedAccount, Account: account}
}

func (e *AccountError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Account.Hex())
}

// Is reports whether target is the sentinel this error carries.
func (e *AccountError) Is(target error) bool {
	return e != nil && target == e.Kind
}

// Unwrap exposes the sentinel kind.
func (e *AccountError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}
