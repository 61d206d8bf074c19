package fees

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/events"
	nativecommon "workescrow/native/common"
)

var (
	defaultScheduleKey    = []byte("fees/schedule/default")
	specialSchedulePrefix = []byte("fees/schedule/special/")
)

// DefaultSchedule is used until an admin stores a default: 3.00% coverage and
// 5.00% claim.
var DefaultSchedule = Schedule{CoverageBps: 300, ClaimBps: 500}

type scheduleState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
}

// Authorizer answers whether an account may administer fee schedules.
type Authorizer interface {
	HasAdminRole(addr common.Address) bool
}

// Manager stores the default and per-address fee schedules and resolves the
// schedule applied to a payer or payee.
type Manager struct {
	state    scheduleState
	admins   Authorizer
	emitter  events.Emitter
	fallback Schedule
}

// NewManager constructs a fee manager. fallback is served until a default
// schedule is written to state.
func NewManager(state scheduleState, admins Authorizer, fallback Schedule) *Manager {
	return &Manager{state: state, admins: admins, emitter: events.NoopEmitter{}, fallback: fallback}
}

// SetEmitter configures the event emitter used by the manager. Passing nil
// resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func specialKey(addr common.Address) []byte {
	return append(append([]byte(nil), specialSchedulePrefix...), addr.Bytes()...)
}

func (m *Manager) authorize(caller common.Address) error {
	if m.admins == nil || !m.admins.HasAdminRole(caller) {
		return nativecommon.Unauthorized(caller)
	}
	return nil
}

// DefaultFees returns the schedule applied to accounts without an override.
func (m *Manager) DefaultFees() (Schedule, error) {
	var stored Schedule
	ok, err := m.state.KVGet(defaultScheduleKey, &stored)
	if err != nil {
		return Schedule{}, err
	}
	if !ok {
		return m.fallback, nil
	}
	return stored, nil
}

// FeeSchedule resolves the schedule for addr and reports whether it came
// from a special override.
func (m *Manager) FeeSchedule(addr common.Address) (Schedule, bool, error) {
	if addr != (common.Address{}) {
		var special Schedule
		ok, err := m.state.KVGet(specialKey(addr), &special)
		if err != nil {
			return Schedule{}, false, err
		}
		if ok {
			return special, true, nil
		}
	}
	schedule, err := m.DefaultFees()
	return schedule, false, err
}

// ComputeDepositAmountAndFee resolves the payer schedule and applies
// DepositAmountAndFee.
func (m *Manager) ComputeDepositAmountAndFee(amount *big.Int, cfg Config, payer common.Address) (*big.Int, *big.Int, error) {
	schedule, _, err := m.FeeSchedule(payer)
	if err != nil {
		return nil, nil, err
	}
	return DepositAmountAndFee(amount, cfg, schedule)
}

// ComputeClaimableAmountAndFee resolves the payee schedule and applies
// ClaimableAmountAndFee. The client fee it returns need not match what
// ComputeDepositAmountAndFee collected from the payer when either party has a
// special schedule.
func (m *Manager) ComputeClaimableAmountAndFee(amount *big.Int, cfg Config, payee common.Address) (*big.Int, *big.Int, *big.Int, error) {
	schedule, _, err := m.FeeSchedule(payee)
	if err != nil {
		return nil, nil, nil, err
	}
	return ClaimableAmountAndFee(amount, cfg, schedule)
}

// UpdateDefaultFees replaces the default schedule.
func (m *Manager) UpdateDefaultFees(caller common.Address, coverageBps, claimBps uint16) error {
	if err := m.authorize(caller); err != nil {
		return err
	}
	schedule := Schedule{CoverageBps: coverageBps, ClaimBps: claimBps}
	if err := schedule.Validate(); err != nil {
		return err
	}
	if err := m.state.KVPut(defaultScheduleKey, schedule); err != nil {
		return fmt.Errorf("fees: store default schedule: %w", err)
	}
	m.emitter.Emit(events.FeeScheduleChanged{Kind: events.TypeFeeDefaultsUpdated, CoverageBps: coverageBps, ClaimBps: claimBps})
	return nil
}

// SetSpecialFees stores an override that fully replaces the default pair for
// addr.
func (m *Manager) SetSpecialFees(caller, addr common.Address, coverageBps, claimBps uint16) error {
	if err := m.authorize(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrZeroAddressProvided
	}
	schedule := Schedule{CoverageBps: coverageBps, ClaimBps: claimBps}
	if err := schedule.Validate(); err != nil {
		return err
	}
	if err := m.state.KVPut(specialKey(addr), schedule); err != nil {
		return fmt.Errorf("fees: store special schedule: %w", err)
	}
	m.emitter.Emit(events.FeeScheduleChanged{Kind: events.TypeFeeSpecialSet, Account: addr, CoverageBps: coverageBps, ClaimBps: claimBps})
	return nil
}

// ResetSpecialFees removes the override for addr.
func (m *Manager) ResetSpecialFees(caller, addr common.Address) error {
	if err := m.authorize(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrZeroAddressProvided
	}
	if err := m.state.KVDelete(specialKey(addr)); err != nil {
		return fmt.Errorf("fees: delete special schedule: %w", err)
	}
	m.emitter.Emit(events.FeeScheduleChanged{Kind: events.TypeFeeSpecialReset, Account: addr})
	return nil
}
