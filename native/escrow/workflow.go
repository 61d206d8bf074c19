package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "workescrow/native/common"
	"workescrow/observability/metrics"
)

// SubmitRequest carries the contractor's work data together with the admin
// permit for the submission.
type SubmitRequest struct {
	Data          []byte
	Salt          []byte
	Authorization Authorization
}

// ClaimReceipt reports how a claim was split.
type ClaimReceipt struct {
	Claimable *big.Int
	ClaimFee  *big.Int
	ClientFee *big.Int
}

// WithdrawReceipt reports a client withdrawal. Fee is the deposit-time fee
// portion that followed the principal, to the client for an approved refund
// and to the treasury for a resolved dispute.
type WithdrawReceipt struct {
	Principal *big.Int
	Fee       *big.Int
	Refunded  *big.Int
}

// unitCall loads the instance, contract and unit every single-unit operation
// acts on and hands them to fn.
func (e *Engine) unitCall(ctx context.Context, operation string, instance common.Address, contractID, unitID uint64, fn func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error) error {
	return e.run(ctx, operation, func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		contract, unit, err := e.loadUnit(inst, lc, contractID, unitID)
		if err != nil {
			return err
		}
		if err := fn(inst, lc, contract, unit); err != nil {
			return err
		}
		variant := lc.variant().String()
		e.observe(func(m *metrics.EscrowMetrics) { m.ObserveTransition(operation, variant) })
		return nil
	})
}

// Submit records the contractor's authorship of a milestone. The commitment
// over (caller, data, salt) must match the hash fixed at funding time.
func (e *Engine) Submit(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, req SubmitRequest) error {
	return e.unitCall(ctx, "submit", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		if !lc.supportsSubmit() {
			return fmt.Errorf("%w: %s escrow", ErrSubmitNotSupported, lc.variant())
		}
		if unit.Status != StatusActive {
			return fmt.Errorf("%w: %s", ErrInvalidStatusForSubmit, unit.Status)
		}
		if ContractorCommitment(caller, req.Data, req.Salt) != unit.ContractorDataHash {
			return ErrInvalidContractorDataHash
		}
		digest := SubmitDigest(inst.Address, caller, contractID, unitID, unit.ContractorDataHash, req.Authorization.Expiration)
		if err := e.verifyAuthorization(req.Authorization, digest); err != nil {
			return err
		}
		if err := unit.submit(caller); err != nil {
			return err
		}
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		e.emit(NewUnitEvent(EventTypeSubmitted, inst, contractID, unitID, unit, nil))
		return nil
	})
}

// Approve lets the client earmark amount of a unit for receiver.
func (e *Engine) Approve(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, amount *big.Int, receiver common.Address) error {
	return e.run(ctx, "approve", func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		return e.approveUnit(inst, lc, caller, contractID, unitID, amount, receiver, false)
	})
}

// AdminApprove is Approve on behalf of an admin. For hourly contracts
// initializeNextWeek opens week unitID (which must be the next index) from
// the prepayment and approves it in the same call.
func (e *Engine) AdminApprove(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, amount *big.Int, receiver common.Address, initializeNextWeek bool) error {
	return e.run(ctx, "admin_approve", func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if initializeNextWeek {
			if !lc.usesPrepayment() {
				return fmt.Errorf("%w: next week on %s escrow", ErrUnsupportedOperation, lc.variant())
			}
			contract, err := e.loadContract(inst, lc, contractID)
			if err != nil {
				return err
			}
			if unitID != contract.UnitCount {
				return fmt.Errorf("%w: next week is %d", ErrInvalidWeekID, contract.UnitCount)
			}
			if err := e.openWeek(inst, contract, common.Hash{}); err != nil {
				return err
			}
		}
		return e.approveUnit(inst, lc, caller, contractID, unitID, amount, receiver, true)
	})
}

func (e *Engine) approveUnit(inst *Instance, lc lifecycle, caller common.Address, contractID, unitID uint64, amount *big.Int, receiver common.Address, admin bool) error {
	contract, unit, err := e.loadUnit(inst, lc, contractID, unitID)
	if err != nil {
		return err
	}
	if err := unit.checkApprovable(amount, receiver); err != nil {
		return err
	}
	if lc.usesPrepayment() {
		if contract.Contractor != (common.Address{}) && contract.Contractor != receiver {
			return fmt.Errorf("%w: %s is not the contract's contractor", ErrUnauthorizedReceiver, receiver.Hex())
		}
		if contract.Prepayment.Cmp(amount) < 0 {
			return fmt.Errorf("%w: approving %s of prepayment %s", ErrNotEnoughDeposit, amount, contract.Prepayment)
		}
		contract.Prepayment.Sub(contract.Prepayment, amount)
		contract.Contractor = receiver
		unit.Amount.Add(unit.Amount, amount)
	}
	if err := unit.approve(amount, receiver); err != nil {
		return err
	}
	if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
		return err
	}
	e.emit(NewUnitEvent(EventTypeApproved, inst, contractID, unitID, unit, map[string]string{
		"approved": amount.String(),
		"approver": hexAddr(caller),
		"admin":    fmt.Sprint(admin),
	}))
	operation := "approve"
	if admin {
		operation = "admin_approve"
	}
	variant := lc.variant().String()
	e.observe(func(m *metrics.EscrowMetrics) { m.ObserveTransition(operation, variant) })
	return nil
}

// Claim pays the contractor's allocation of a unit. The unit is settled and
// persisted before any value leaves the vault.
func (e *Engine) Claim(ctx context.Context, instance, caller common.Address, contractID, unitID uint64) (*ClaimReceipt, error) {
	var receipt *ClaimReceipt
	err := e.unitCall(ctx, "claim", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		if err := e.guardPaused(); err != nil {
			return err
		}
		if err := unit.claimable(); err != nil {
			return err
		}
		if caller != unit.Contractor {
			return nativecommon.Unauthorized(caller)
		}
		if err := e.checkNotBlacklisted(caller, inst.Client); err != nil {
			return err
		}
		treasury, err := e.treasury()
		if err != nil {
			return err
		}
		// The client-side fee is priced on the contractor's schedule, while the
		// deposit priced it on the client's. When the two differ the treasury
		// share comes out of the shared vault, so other contracts of the same
		// instance can cover it and a short vault fails the whole claim.
		claimable, claimFee, clientFee, err := e.fees.ComputeClaimableAmountAndFee(unit.AmountToClaim, unit.FeeConfig, unit.Contractor)
		if err != nil {
			return err
		}
		claimed := unit.settleClaim()
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		toTreasury := new(big.Int).Add(claimFee, clientFee)
		if err := e.pay(contract.Token, inst.Address, caller, claimable, "contractor"); err != nil {
			return err
		}
		if err := e.pay(contract.Token, inst.Address, treasury, toTreasury, "treasury"); err != nil {
			return err
		}
		receipt = &ClaimReceipt{Claimable: claimable, ClaimFee: claimFee, ClientFee: clientFee}
		e.emit(NewUnitEvent(EventTypeClaimed, inst, contractID, unitID, unit, map[string]string{
			"claimed":   claimed.String(),
			"claimable": claimable.String(),
			"claimFee":  claimFee.String(),
			"clientFee": clientFee.String(),
		}))
		e.observe(func(m *metrics.EscrowMetrics) { m.ObserveFee("claim", toTreasury) })
		return nil
	})
	return receipt, err
}

// RequestReturn asks for the unit's remaining value back.
func (e *Engine) RequestReturn(ctx context.Context, instance, caller common.Address, contractID, unitID uint64) error {
	return e.unitCall(ctx, "request_return", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		if err := unit.requestReturn(); err != nil {
			return err
		}
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		e.emit(NewUnitEvent(EventTypeReturnRequested, inst, contractID, unitID, unit, nil))
		return nil
	})
}

// ApproveReturn accepts a pending return. Admins and the bound contractor may
// call it. Hourly contracts fold the unspent prepayment into the refund.
func (e *Engine) ApproveReturn(ctx context.Context, instance, caller common.Address, contractID, unitID uint64) error {
	return e.unitCall(ctx, "approve_return", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		bound := unit.Contractor != (common.Address{}) && caller == unit.Contractor
		if !bound && !e.admins.HasAdminRole(caller) {
			return fmt.Errorf("%w: %s", ErrUnauthorizedToApproveReturn, caller.Hex())
		}
		if unit.Status != StatusReturnRequested {
			return fmt.Errorf("%w: %s", ErrNoReturnRequested, unit.Status)
		}
		if lc.usesPrepayment() {
			unit.Amount.Add(unit.Amount, contract.Prepayment)
			contract.Prepayment = big.NewInt(0)
		}
		if err := unit.approveReturn(); err != nil {
			return err
		}
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		e.emit(NewUnitEvent(EventTypeReturnApproved, inst, contractID, unitID, unit, map[string]string{
			"approver": hexAddr(caller),
		}))
		return nil
	})
}

// CancelReturn withdraws a pending return request and puts the unit back into
// target, which must be ACTIVE or, where submissions exist, SUBMITTED.
func (e *Engine) CancelReturn(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, target Status) error {
	return e.unitCall(ctx, "cancel_return", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		if err := unit.cancelReturn(target, lc.supportsSubmit()); err != nil {
			return err
		}
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		e.emit(NewUnitEvent(EventTypeReturnCanceled, inst, contractID, unitID, unit, nil))
		return nil
	})
}

// Withdraw pays the client's refund allocation of a unit along with the
// matching deposit-time fee.
func (e *Engine) Withdraw(ctx context.Context, instance, caller common.Address, contractID, unitID uint64) (*WithdrawReceipt, error) {
	var receipt *WithdrawReceipt
	err := e.unitCall(ctx, "withdraw", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		if err := e.guardPaused(); err != nil {
			return err
		}
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		if err := e.checkNotBlacklisted(caller); err != nil {
			return err
		}
		if err := unit.withdrawable(); err != nil {
			return err
		}
		_, fee, err := e.fees.ComputeDepositAmountAndFee(unit.AmountToWithdraw, unit.FeeConfig, inst.Client)
		if err != nil {
			return err
		}
		refundFee := unit.Status == StatusRefundApproved
		var treasury common.Address
		if !refundFee && fee.Sign() > 0 {
			if treasury, err = e.treasury(); err != nil {
				return err
			}
		}
		principal := unit.settleWithdraw()
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		refunded := new(big.Int).Set(principal)
		if refundFee {
			refunded.Add(refunded, fee)
		}
		if err := e.pay(contract.Token, inst.Address, inst.Client, refunded, "client"); err != nil {
			return err
		}
		if !refundFee {
			if err := e.pay(contract.Token, inst.Address, treasury, fee, "treasury"); err != nil {
				return err
			}
			routed := new(big.Int).Set(fee)
			e.observe(func(m *metrics.EscrowMetrics) { m.ObserveFee("withdraw", routed) })
		}
		receipt = &WithdrawReceipt{Principal: principal, Fee: fee, Refunded: refunded}
		e.emit(NewUnitEvent(EventTypeWithdrawn, inst, contractID, unitID, unit, map[string]string{
			"principal": principal.String(),
			"fee":       fee.String(),
			"refunded":  refunded.String(),
		}))
		return nil
	})
	return receipt, err
}
