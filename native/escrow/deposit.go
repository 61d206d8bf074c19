package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/native/fees"
	"workescrow/observability/metrics"
)

// UnitDeposit describes one unit funded by a deposit: the whole contract, a
// milestone, or the prepayment of an hourly contract.
type UnitDeposit struct {
	Contractor         common.Address
	Amount             *big.Int
	FeeConfig          fees.Config
	ContractorDataHash common.Hash
}

// DepositRequest is the client's funding call together with the admin permit.
type DepositRequest struct {
	ContractID    uint64
	Token         common.Address
	Units         []UnitDeposit
	Authorization Authorization
}

// DepositReceipt reports what a funding call collected.
type DepositReceipt struct {
	ContractID uint64
	// FirstUnit is the index of the first unit created by the call and
	// CurrentUnit the index of the last.
	FirstUnit   uint64
	CurrentUnit uint64
	Total       *big.Int
	Fee         *big.Int
}

// RefillReceipt reports a top-up of an existing unit or prepayment.
type RefillReceipt struct {
	Amount *big.Int
	Total  *big.Int
	Fee    *big.Int
}

func (e *Engine) checkFundingConfig(token common.Address) error {
	if !e.registry.IsPaymentTokenSupported(token) {
		return fmt.Errorf("%w: %s", ErrNotSupportedPaymentToken, token.Hex())
	}
	if e.registry.FeeManager() == (common.Address{}) {
		return ErrNotSetFeeManager
	}
	return nil
}

// quoteDeposit validates every unit and sums what the client is charged.
func (e *Engine) quoteDeposit(client common.Address, units []UnitDeposit) (*big.Int, *big.Int, error) {
	total := big.NewInt(0)
	fee := big.NewInt(0)
	for i, unit := range units {
		if unit.Amount == nil || unit.Amount.Sign() <= 0 {
			return nil, nil, fmt.Errorf("%w: unit %d", ErrInvalidAmount, i)
		}
		unitTotal, unitFee, err := e.fees.ComputeDepositAmountAndFee(unit.Amount, unit.FeeConfig, client)
		if err != nil {
			return nil, nil, err
		}
		total.Add(total, unitTotal)
		fee.Add(fee, unitFee)
	}
	return total, fee, nil
}

// Deposit creates and funds a new contract. The client pays the nominal
// amounts plus the deposit-time fees; both stay in the instance vault until a
// claim or withdraw settles them.
func (e *Engine) Deposit(ctx context.Context, instance, caller common.Address, req DepositRequest) (*DepositReceipt, error) {
	var receipt *DepositReceipt
	err := e.run(ctx, "deposit", func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if err := e.guardPaused(); err != nil {
			return err
		}
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		if err := lc.checkDepositShape(req); err != nil {
			return err
		}
		st := e.store()
		if _, exists, err := st.contract(inst.Address, req.ContractID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %d", ErrContractIDAlreadyExists, req.ContractID)
		}
		if err := e.checkFundingConfig(req.Token); err != nil {
			return err
		}
		total, fee, err := e.quoteDeposit(inst.Client, req.Units)
		if err != nil {
			return err
		}
		if err := e.verifyAuthorization(req.Authorization, DepositDigest(inst.Address, inst.Client, req, 0)); err != nil {
			return err
		}

		contract := &Contract{
			ID:         req.ContractID,
			Variant:    lc.variant(),
			Token:      req.Token,
			Prepayment: big.NewInt(0),
		}
		if err := st.putContract(inst.Address, contract, true); err != nil {
			return err
		}
		if lc.usesPrepayment() {
			deposit := req.Units[0]
			contract.Prepayment = new(big.Int).Set(deposit.Amount)
			contract.Contractor = deposit.Contractor
			contract.FeeConfig = deposit.FeeConfig
			if err := e.openWeek(inst, contract, deposit.ContractorDataHash); err != nil {
				return err
			}
		} else if err := e.appendUnits(inst, contract, req.Units); err != nil {
			return err
		}
		if err := e.pull(req.Token, inst.Address, inst.Client, total); err != nil {
			return err
		}
		receipt = &DepositReceipt{
			ContractID:  contract.ID,
			FirstUnit:   0,
			CurrentUnit: contract.CurrentUnit(),
			Total:       total,
			Fee:         fee,
		}
		e.emit(NewDepositedEvent(EventTypeDeposited, inst, contract, 0, len(req.Units), total, fee))
		variant := lc.variant().String()
		e.observe(func(m *metrics.EscrowMetrics) { m.ObserveTransition("deposit", variant) })
		return nil
	})
	return receipt, err
}

// AddMilestones appends funded milestones to an existing milestone contract.
// The permit is bound to the current unit count so it cannot be replayed.
func (e *Engine) AddMilestones(ctx context.Context, instance, caller common.Address, req DepositRequest) (*DepositReceipt, error) {
	var receipt *DepositReceipt
	err := e.run(ctx, "add_milestones", func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if lc.variant() != VariantMilestone {
			return fmt.Errorf("%w: add milestones on %s escrow", ErrUnsupportedOperation, lc.variant())
		}
		if err := e.guardPaused(); err != nil {
			return err
		}
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		if err := lc.checkDepositShape(req); err != nil {
			return err
		}
		contract, err := e.loadContract(inst, lc, req.ContractID)
		if err != nil {
			return err
		}
		if contract.Token != req.Token {
			return fmt.Errorf("%w: contract pays in %s", ErrPaymentTokenMismatch, contract.Token.Hex())
		}
		if err := e.checkFundingConfig(req.Token); err != nil {
			return err
		}
		total, fee, err := e.quoteDeposit(inst.Client, req.Units)
		if err != nil {
			return err
		}
		first := contract.UnitCount
		if err := e.verifyAuthorization(req.Authorization, DepositDigest(inst.Address, inst.Client, req, first)); err != nil {
			return err
		}
		if err := e.appendUnits(inst, contract, req.Units); err != nil {
			return err
		}
		if err := e.pull(req.Token, inst.Address, inst.Client, total); err != nil {
			return err
		}
		receipt = &DepositReceipt{
			ContractID:  contract.ID,
			FirstUnit:   first,
			CurrentUnit: contract.CurrentUnit(),
			Total:       total,
			Fee:         fee,
		}
		e.emit(NewDepositedEvent(EventTypeMilestonesAdded, inst, contract, first, len(req.Units), total, fee))
		e.observe(func(m *metrics.EscrowMetrics) { m.ObserveTransition("add_milestones", VariantMilestone.String()) })
		return nil
	})
	return receipt, err
}

func (e *Engine) appendUnits(inst *Instance, contract *Contract, deposits []UnitDeposit) error {
	for _, deposit := range deposits {
		unit := &Unit{
			Contractor:         deposit.Contractor,
			FeeConfig:          deposit.FeeConfig,
			ContractorDataHash: deposit.ContractorDataHash,
		}
		if err := unit.fund(deposit.Amount); err != nil {
			return err
		}
		unitID := contract.UnitCount
		contract.UnitCount++
		if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
			return err
		}
	}
	return nil
}

// openWeek creates the next hourly week. Weeks start empty and draw their
// principal from the contract prepayment when approved.
func (e *Engine) openWeek(inst *Instance, contract *Contract, dataHash common.Hash) error {
	unit := &Unit{
		Contractor:         contract.Contractor,
		FeeConfig:          contract.FeeConfig,
		ContractorDataHash: dataHash,
	}
	if err := unit.fund(big.NewInt(0)); err != nil {
		return err
	}
	unitID := contract.UnitCount
	contract.UnitCount++
	if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
		return err
	}
	e.emit(NewUnitEvent(EventTypeWeekStarted, inst, contract.ID, unitID, unit, map[string]string{
		"prepayment": amountString(contract.Prepayment),
	}))
	return nil
}

// StartNextWeek lets the client open a new billing week once the current one
// has been approved or has ended.
func (e *Engine) StartNextWeek(ctx context.Context, instance, caller common.Address, contractID uint64) (uint64, error) {
	var weekID uint64
	err := e.run(ctx, "start_next_week", func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if !lc.usesPrepayment() {
			return fmt.Errorf("%w: weeks on %s escrow", ErrUnsupportedOperation, lc.variant())
		}
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		contract, err := e.loadContract(inst, lc, contractID)
		if err != nil {
			return err
		}
		_, current, err := e.loadUnit(inst, lc, contractID, contract.CurrentUnit())
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusApproved, StatusCompleted, StatusCanceled:
		default:
			return fmt.Errorf("%w: week %d is %s", ErrInvalidStatusProvided, contract.CurrentUnit(), current.Status)
		}
		if err := e.openWeek(inst, contract, common.Hash{}); err != nil {
			return err
		}
		weekID = contract.CurrentUnit()
		e.observe(func(m *metrics.EscrowMetrics) { m.ObserveTransition("start_next_week", VariantHourly.String()) })
		return nil
	})
	return weekID, err
}

// RefillPrepayment tops up the principal of a unit. Hourly contracts add the
// value to the contract prepayment instead; unitID still has to name an
// existing week.
func (e *Engine) RefillPrepayment(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, amount *big.Int) (*RefillReceipt, error) {
	return e.refill(ctx, "refill_prepayment", instance, caller, contractID, unitID, amount, false)
}

// RefillClaim adds value to an approved unit and earmarks it for the
// contractor in one step.
func (e *Engine) RefillClaim(ctx context.Context, instance, caller common.Address, contractID, unitID uint64, amount *big.Int) (*RefillReceipt, error) {
	return e.refill(ctx, "refill_claim", instance, caller, contractID, unitID, amount, true)
}

func (e *Engine) refill(ctx context.Context, operation string, instance, caller common.Address, contractID, unitID uint64, amount *big.Int, toClaim bool) (*RefillReceipt, error) {
	var receipt *RefillReceipt
	err := e.run(ctx, operation, func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if err := e.guardPaused(); err != nil {
			return err
		}
		if err := e.requireClient(inst, caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		contract, unit, err := e.loadUnit(inst, lc, contractID, unitID)
		if err != nil {
			return err
		}
		toPrepayment := lc.usesPrepayment() && !toClaim
		if !toPrepayment {
			if err := unit.checkRefillable(); err != nil {
				return err
			}
		}
		if toClaim && unit.Status != StatusApproved {
			return fmt.Errorf("%w: %s", ErrNotApproved, unit.Status)
		}
		total, fee, err := e.fees.ComputeDepositAmountAndFee(amount, unit.FeeConfig, inst.Client)
		if err != nil {
			return err
		}
		if toPrepayment {
			contract.Prepayment.Add(contract.Prepayment, amount)
			if err := e.store().putContract(inst.Address, contract, false); err != nil {
				return err
			}
		} else {
			unit.Amount.Add(unit.Amount, amount)
			if toClaim {
				unit.AmountToClaim.Add(unit.AmountToClaim, amount)
			}
			if err := e.saveUnit(inst, contract, unitID, unit); err != nil {
				return err
			}
		}
		if err := e.pull(contract.Token, inst.Address, inst.Client, total); err != nil {
			return err
		}
		receipt = &RefillReceipt{Amount: new(big.Int).Set(amount), Total: total, Fee: fee}
		target := "principal"
		switch {
		case toClaim:
			target = "claim"
		case toPrepayment:
			target = "prepayment"
		}
		e.emit(NewUnitEvent(EventTypeRefilled, inst, contractID, unitID, unit, map[string]string{
			"target":     target,
			"refill":     amount.String(),
			"total":      total.String(),
			"fee":        fee.String(),
			"prepayment": amountString(contract.Prepayment),
		}))
		variant := lc.variant().String()
		e.observe(func(m *metrics.EscrowMetrics) { m.ObserveTransition(operation, variant) })
		return nil
	})
	return receipt, err
}
