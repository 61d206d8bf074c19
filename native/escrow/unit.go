package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// checkInvariants validates a unit before it is persisted.
func (u *Unit) checkInvariants() error {
	if u == nil {
		return fmt.Errorf("%w: nil unit", ErrInvariantViolation)
	}
	u.normalize()
	if u.Amount.Sign() < 0 || u.AmountToClaim.Sign() < 0 || u.AmountToWithdraw.Sign() < 0 {
		return fmt.Errorf("%w: negative balance", ErrInvariantViolation)
	}
	allocated := new(big.Int).Add(u.AmountToClaim, u.AmountToWithdraw)
	if allocated.Cmp(u.Amount) > 0 {
		return fmt.Errorf("%w: allocations %s exceed principal %s", ErrInvariantViolation, allocated, u.Amount)
	}
	if !u.Status.Valid() || u.Status == StatusNone {
		return fmt.Errorf("%w: status %s", ErrInvariantViolation, u.Status)
	}
	if u.Status.Terminal() && u.Amount.Sign() != 0 {
		return fmt.Errorf("%w: %s unit retains %s", ErrInvariantViolation, u.Status, u.Amount)
	}
	return nil
}

// fund moves a fresh unit from NONE to ACTIVE.
func (u *Unit) fund(amount *big.Int) error {
	if u.Status != StatusNone {
		return fmt.Errorf("%w: unit already funded", ErrInvariantViolation)
	}
	u.normalize()
	u.Amount.Add(u.Amount, amount)
	u.Status = StatusActive
	return nil
}

// submit binds the contractor after the commitment has been verified.
func (u *Unit) submit(contractor common.Address) error {
	if u.Status != StatusActive {
		return fmt.Errorf("%w: %s", ErrInvalidStatusForSubmit, u.Status)
	}
	u.Contractor = contractor
	u.Status = StatusSubmitted
	return nil
}

func (u *Unit) checkApprovable(amount *big.Int, receiver common.Address) error {
	if u.Status != StatusActive && u.Status != StatusSubmitted {
		return fmt.Errorf("%w: %s", ErrInvalidStatusForApprove, u.Status)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if receiver == (common.Address{}) {
		return fmt.Errorf("%w: zero receiver", ErrUnauthorizedReceiver)
	}
	if u.Contractor != (common.Address{}) && u.Contractor != receiver {
		return fmt.Errorf("%w: %s is not the bound contractor", ErrUnauthorizedReceiver, receiver.Hex())
	}
	return nil
}

// approve earmarks amount of the unallocated principal for the receiver.
func (u *Unit) approve(amount *big.Int, receiver common.Address) error {
	if err := u.checkApprovable(amount, receiver); err != nil {
		return err
	}
	if u.Unallocated().Cmp(amount) < 0 {
		return fmt.Errorf("%w: approving %s of %s", ErrNotEnoughDeposit, amount, u.Unallocated())
	}
	u.AmountToClaim.Add(u.AmountToClaim, amount)
	u.Contractor = receiver
	u.Status = StatusApproved
	return nil
}

func (u *Unit) checkRefillable() error {
	switch u.Status {
	case StatusActive, StatusSubmitted, StatusApproved, StatusReturnRequested, StatusDisputed:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatusForRefill, u.Status)
	}
}

func (u *Unit) claimable() error {
	if u.Status != StatusApproved && u.Status != StatusResolved {
		return fmt.Errorf("%w: %s", ErrInvalidStatusToClaim, u.Status)
	}
	if u.AmountToClaim.Sign() == 0 {
		return ErrNotApproved
	}
	return nil
}

// settleClaim zeroes the claim allocation and removes it from the principal.
// It returns the value released to the contractor side.
func (u *Unit) settleClaim() *big.Int {
	claimed := new(big.Int).Set(u.AmountToClaim)
	u.AmountToClaim.SetInt64(0)
	u.Amount.Sub(u.Amount, claimed)
	if u.Amount.Sign() == 0 {
		u.Status = StatusCompleted
	}
	return claimed
}

func (u *Unit) requestReturn() error {
	switch u.Status {
	case StatusActive, StatusSubmitted, StatusApproved, StatusResolved:
		u.Status = StatusReturnRequested
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrReturnNotAllowed, u.Status)
	}
}

func (u *Unit) approveReturn() error {
	if u.Status != StatusReturnRequested {
		return fmt.Errorf("%w: %s", ErrNoReturnRequested, u.Status)
	}
	u.AmountToClaim.SetInt64(0)
	u.AmountToWithdraw.Set(u.Amount)
	u.Status = StatusRefundApproved
	return nil
}

func (u *Unit) cancelReturn(target Status, allowSubmitted bool) error {
	if u.Status != StatusReturnRequested {
		return fmt.Errorf("%w: %s", ErrNoReturnRequested, u.Status)
	}
	switch {
	case target == StatusActive:
	case target == StatusSubmitted && allowSubmitted:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatusProvided, target)
	}
	u.Status = target
	return nil
}

func (u *Unit) openDispute() error {
	if u.Status != StatusReturnRequested {
		return fmt.Errorf("%w: %s", ErrCreateDisputeNotAllowed, u.Status)
	}
	u.Status = StatusDisputed
	u.Winner = WinnerNone
	return nil
}

func (u *Unit) withdrawable() error {
	if u.AmountToWithdraw.Sign() == 0 {
		return ErrNoFundsAvailableForWithdraw
	}
	if u.Status != StatusRefundApproved && u.Status != StatusResolved {
		return fmt.Errorf("%w: %s", ErrInvalidStatusToWithdraw, u.Status)
	}
	return nil
}

// settleWithdraw zeroes the refund allocation and removes it from the
// principal. It returns the refunded principal.
func (u *Unit) settleWithdraw() *big.Int {
	withdrawn := new(big.Int).Set(u.AmountToWithdraw)
	u.AmountToWithdraw.SetInt64(0)
	u.Amount.Sub(u.Amount, withdrawn)
	if u.Amount.Sign() == 0 {
		u.Status = StatusCanceled
	} else {
		u.Status = StatusResolved
	}
	return withdrawn
}
