package escrow

import "fmt"

// lifecycle carries the few rules that differ between the payment shapes.
// Everything else in the unit state machine is shared.
type lifecycle interface {
	variant() Variant
	// invalidUnit is the error kind raised for an out-of-range unit index.
	invalidUnit() error
	supportsSubmit() bool
	// usesPrepayment reports whether approvals draw from, refills top up and
	// returns absorb the contract-level prepayment.
	usesPrepayment() bool
	checkDepositShape(req DepositRequest) error
}

type fixedLifecycle struct{}

func (fixedLifecycle) variant() Variant     { return VariantFixed }
func (fixedLifecycle) invalidUnit() error   { return ErrInvalidContractID }
func (fixedLifecycle) supportsSubmit() bool { return false }
func (fixedLifecycle) usesPrepayment() bool { return false }
func (fixedLifecycle) checkDepositShape(req DepositRequest) error {
	return requireSingleDeposit(req, VariantFixed)
}

type milestoneLifecycle struct{}

func (milestoneLifecycle) variant() Variant     { return VariantMilestone }
func (milestoneLifecycle) invalidUnit() error   { return ErrInvalidMilestoneID }
func (milestoneLifecycle) supportsSubmit() bool { return true }
func (milestoneLifecycle) usesPrepayment() bool { return false }
func (milestoneLifecycle) checkDepositShape(req DepositRequest) error {
	if len(req.Units) == 0 {
		return ErrNoDepositsProvided
	}
	if len(req.Units) > MaxMilestonesPerCall {
		return fmt.Errorf("%w: %d > %d", ErrTooManyMilestones, len(req.Units), MaxMilestonesPerCall)
	}
	return nil
}

type hourlyLifecycle struct{}

func (hourlyLifecycle) variant() Variant     { return VariantHourly }
func (hourlyLifecycle) invalidUnit() error   { return ErrInvalidWeekID }
func (hourlyLifecycle) supportsSubmit() bool { return false }
func (hourlyLifecycle) usesPrepayment() bool { return true }
func (hourlyLifecycle) checkDepositShape(req DepositRequest) error {
	return requireSingleDeposit(req, VariantHourly)
}

func requireSingleDeposit(req DepositRequest, v Variant) error {
	switch len(req.Units) {
	case 0:
		return ErrNoDepositsProvided
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: %s escrow takes a single deposit", ErrUnsupportedOperation, v)
	}
}

func lifecycleFor(v Variant) (lifecycle, error) {
	switch v {
	case VariantFixed:
		return fixedLifecycle{}, nil
	case VariantMilestone:
		return milestoneLifecycle{}, nil
	case VariantHourly:
		return hourlyLifecycle{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidVariant, v)
	}
}
