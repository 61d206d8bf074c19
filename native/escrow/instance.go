package escrow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "workescrow/native/common"
)

// InstanceAddress derives the deterministic address of an escrow instance.
// The address doubles as the instance's token vault.
func InstanceAddress(variant Variant, deployer common.Address, salt common.Hash) common.Address {
	hash := ethcrypto.Keccak256([]byte{byte(variant)}, deployer.Bytes(), salt.Bytes())
	return common.BytesToAddress(hash[12:])
}

// Deploy records a new, uninitialised escrow instance owned by caller.
func (e *Engine) Deploy(ctx context.Context, caller common.Address, variant Variant, salt common.Hash) (*Instance, error) {
	var out *Instance
	err := e.run(ctx, "deploy", func() error {
		if caller == (common.Address{}) {
			return ErrZeroAddressProvided
		}
		if !variant.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidVariant, variant)
		}
		addr := InstanceAddress(variant, caller, salt)
		st := e.store()
		if _, exists, err := st.instance(addr); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s", ErrInstanceExists, addr.Hex())
		}
		inst := &Instance{Address: addr, Variant: variant, Deployer: caller, Salt: salt}
		if err := st.putInstance(inst, true); err != nil {
			return err
		}
		e.emit(NewInstanceDeployedEvent(inst))
		out = inst.Clone()
		return nil
	})
	return out, err
}

// Initialize binds the client of a deployed instance. It may run once and
// only the deployer may call it.
func (e *Engine) Initialize(ctx context.Context, instance, caller, client common.Address) error {
	return e.run(ctx, "initialize", func() error {
		st := e.store()
		inst, ok, err := st.instance(instance)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstance, instance.Hex())
		}
		if inst.Initialized {
			return ErrAlreadyInitialized
		}
		if caller != inst.Deployer {
			return nativecommon.Unauthorized(caller)
		}
		if client == (common.Address{}) {
			return fmt.Errorf("%w: client", ErrZeroAddressProvided)
		}
		inst.Client = client
		inst.Initialized = true
		if err := st.putInstance(inst, false); err != nil {
			return err
		}
		e.emit(NewInitializedEvent(inst))
		return nil
	})
}

// loadInstance returns an initialised instance together with its variant
// rules. Every state-machine entry point goes through it.
func (e *Engine) loadInstance(addr common.Address) (*Instance, lifecycle, error) {
	if err := e.checkCollaborators(); err != nil {
		return nil, nil, err
	}
	inst, ok, err := e.store().instance(addr)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownInstance, addr.Hex())
	}
	if !inst.Initialized {
		return nil, nil, ErrNotInitialized
	}
	lc, err := lifecycleFor(inst.Variant)
	if err != nil {
		return nil, nil, err
	}
	return inst, lc, nil
}

func (e *Engine) requireClient(inst *Instance, caller common.Address) error {
	if caller != inst.Client {
		return nativecommon.Unauthorized(caller)
	}
	return nil
}

// loadUnit resolves a contract and one of its units, raising the variant's
// unit-id error for unknown indices.
func (e *Engine) loadUnit(inst *Instance, lc lifecycle, contractID, unitID uint64) (*Contract, *Unit, error) {
	contract, err := e.loadContract(inst, lc, contractID)
	if err != nil {
		return nil, nil, err
	}
	if unitID >= contract.UnitCount {
		return nil, nil, fmt.Errorf("%w: %d", lc.invalidUnit(), unitID)
	}
	unit, ok, err := e.store().unit(inst.Address, contractID, unitID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", lc.invalidUnit(), unitID)
	}
	return contract, unit, nil
}

func (e *Engine) loadContract(inst *Instance, lc lifecycle, contractID uint64) (*Contract, error) {
	contract, ok, err := e.store().contract(inst.Address, contractID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if lc.variant() == VariantFixed {
			return nil, fmt.Errorf("%w: %d", ErrInvalidContractID, contractID)
		}
		return nil, fmt.Errorf("%w: contract %d", lc.invalidUnit(), contractID)
	}
	return contract, nil
}

// saveUnit validates the unit, persists it and refreshes the contract status.
func (e *Engine) saveUnit(inst *Instance, contract *Contract, unitID uint64, unit *Unit) error {
	if err := unit.checkInvariants(); err != nil {
		return err
	}
	if contract.Prepayment == nil || contract.Prepayment.Sign() < 0 {
		return fmt.Errorf("%w: negative prepayment", ErrInvariantViolation)
	}
	st := e.store()
	if err := st.putUnit(inst.Address, contract.ID, unitID, unit); err != nil {
		return err
	}
	status, err := e.contractStatus(inst, contract, unitID, unit)
	if err != nil {
		return err
	}
	contract.Status = status
	return st.putContract(inst.Address, contract, false)
}

// contractStatus derives the overall status of a contract after unitID was
// written. Fixed and hourly contracts mirror their current unit; writes to an
// older hourly week leave the status alone. A milestone contract reports its
// first milestone that is still open, or the last one once all are terminal.
func (e *Engine) contractStatus(inst *Instance, contract *Contract, unitID uint64, unit *Unit) (Status, error) {
	if contract.Variant != VariantMilestone {
		if unitID == contract.CurrentUnit() {
			return unit.Status, nil
		}
		return contract.Status, nil
	}
	st := e.store()
	status := contract.Status
	for id := uint64(0); id < contract.UnitCount; id++ {
		current := unit
		if id != unitID {
			loaded, ok, err := st.unit(inst.Address, contract.ID, id)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			current = loaded
		}
		status = current.Status
		if !status.Terminal() {
			break
		}
	}
	return status, nil
}
