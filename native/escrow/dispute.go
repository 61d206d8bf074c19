package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/observability/metrics"
)

// resolveAllocation applies an arbitration outcome to a disputed unit. The
// amounts are judged against the principal at resolution time, so refills
// made while the dispute was open count.
func resolveAllocation(u *Unit, winner Winner, clientAmount, contractorAmount *big.Int) error {
	if u.Status != StatusDisputed {
		return fmt.Errorf("%w: %s", ErrDisputeNotActiveForThisDeposit, u.Status)
	}
	switch winner {
	case WinnerClient, WinnerContractor, WinnerSplit:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidWinnerSpecified, winner)
	}
	if clientAmount == nil || contractorAmount == nil || clientAmount.Sign() < 0 || contractorAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if contractorAmount.Sign() > 0 && u.Contractor == (common.Address{}) {
		return fmt.Errorf("%w: no contractor bound to receive %s", ErrUnauthorizedReceiver, contractorAmount)
	}
	total := new(big.Int).Add(clientAmount, contractorAmount)
	if total.Cmp(u.Amount) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrResolutionExceedsDepositedAmount, total, u.Amount)
	}
	u.AmountToWithdraw = new(big.Int).Set(clientAmount)
	u.AmountToClaim = new(big.Int).Set(contractorAmount)
	u.Winner = winner
	if winner == WinnerContractor {
		u.Status = StatusApproved
	} else {
		u.Status = StatusResolved
	}
	return nil
}

// CreateDispute escalates a pending return. Either the client or the bound
// contractor may open it.
func (e *Engine) CreateDispute(ctx context.Context, instance, caller common.Address, contractID, unitID uint64) error {
	return e.unitCall(ctx, "create_dispute", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		bound := unit.Contractor != (common.Address{}) && caller == unit.Contractor
		if caller != inst.Client && !bound {
			return fmt.Errorf("%w: %s", ErrUnauthorizedToApproveDispute, caller.Hex())
		}
		if err := unit.openDispute(); err != nil {
			return err
		}
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		e.emit(NewUnitEvent(EventTypeDisputeCreated, inst, contractID, unitID, unit, map[string]string{
			"initiator": hexAddr(caller),
		}))
		e.observe(func(m *metrics.EscrowMetrics) { m.DisputeOpened() })
		return nil
	})
}

// ResolveDispute applies an admin's arbitration outcome to a disputed unit.
func (e *Engine) ResolveDispute(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, winner Winner, clientAmount, contractorAmount *big.Int) error {
	return e.unitCall(ctx, "resolve_dispute", instance, contractID, unitID, func(inst *Instance, lc lifecycle, contract *Contract, unit *Unit) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if err := resolveAllocation(unit, winner, clientAmount, contractorAmount); err != nil {
			return err
		}
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
		e.emit(NewUnitEvent(EventTypeDisputeResolved, inst, contractID, unitID, unit, map[string]string{
			"arbiter":          hexAddr(caller),
			"clientAmount":     clientAmount.String(),
			"contractorAmount": contractorAmount.String(),
		}))
		e.observe(func(m *metrics.EscrowMetrics) { m.DisputeResolved() })
		return nil
	})
}
