package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Instance returns the record of a deployed instance.
func (e *Engine) Instance(addr common.Address) (*Instance, error) {
	var out *Instance
	err := e.View(func() error {
		inst, ok, err := e.store().instance(addr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstance, addr.Hex())
		}
		out = inst
		return nil
	})
	return out, err
}

// Instances lists the addresses of every deployed instance in deployment
// order.
func (e *Engine) Instances() ([]common.Address, error) {
	var out []common.Address
	err := e.View(func() error {
		var err error
		out, err = e.store().instances()
		return err
	})
	return out, err
}

// Contract returns a snapshot of one contract ledger.
func (e *Engine) Contract(instance common.Address, contractID uint64) (*Contract, error) {
	var out *Contract
	err := e.View(func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		out, err = e.loadContract(inst, lc, contractID)
		return err
	})
	return out, err
}

// Contracts lists the contract ids of an instance in creation order.
func (e *Engine) Contracts(instance common.Address) ([]uint64, error) {
	var out []uint64
	err := e.View(func() error {
		var err error
		out, err = e.store().contractIDs(instance)
		return err
	})
	return out, err
}

// Unit returns a snapshot of one unit.
func (e *Engine) Unit(instance common.Address, contractID, unitID uint64) (*Unit, error) {
	var out *Unit
	err := e.View(func() error {
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		_, out, err = e.loadUnit(inst, lc, contractID, unitID)
		return err
	})
	return out, err
}

// Units returns the units in [start, end] of a contract. The range follows
// the ClaimAll rules.
func (e *Engine) Units(instance common.Address, contractID, start, end uint64) ([]*Unit, error) {
	var out []*Unit
	err := e.View(func() error {
		if start > end {
			return fmt.Errorf("%w: %d > %d", ErrInvalidRange, start, end)
		}
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		contract, err := e.loadContract(inst, lc, contractID)
		if err != nil {
			return err
		}
		if end >= contract.UnitCount {
			return fmt.Errorf("%w: %d >= %d", ErrOutOfRange, end, contract.UnitCount)
		}
		out = make([]*Unit, 0, end-start+1)
		for id := start; ; id++ {
			_, unit, err := e.loadUnit(inst, lc, contractID, id)
			if err != nil {
				return err
			}
			out = append(out, unit)
			if id == end {
				break
			}
		}
		return nil
	})
	return out, err
}

// VaultBalance reports the instance vault's balance of token.
func (e *Engine) VaultBalance(instance, token common.Address) (*big.Int, error) {
	var out *big.Int
	err := e.View(func() error {
		if e.ledger == nil {
			return errNilLedger
		}
		var err error
		out, err = e.ledger.BalanceOf(token, instance)
		return err
	})
	return out, err
}
