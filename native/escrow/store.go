package escrow

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type kvState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// engineState is the storage the engine runs against. Snapshot and revert
// make each engine call all-or-nothing; Commit persists a successful call.
type engineState interface {
	kvState
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

var (
	instanceIndexKey     = []byte("escrow/instances")
	instancePrefix       = []byte("escrow/instance/")
	contractIndexPrefix  = []byte("escrow/contracts/")
	contractRecordPrefix = []byte("escrow/contract/")
	unitRecordPrefix     = []byte("escrow/unit/")
)

func instanceKey(addr common.Address) []byte {
	return append(append([]byte(nil), instancePrefix...), addr.Bytes()...)
}

func contractIndexKey(addr common.Address) []byte {
	return append(append([]byte(nil), contractIndexPrefix...), addr.Bytes()...)
}

func contractKey(addr common.Address, id uint64) []byte {
	key := append(append([]byte(nil), contractRecordPrefix...), addr.Bytes()...)
	return binary.BigEndian.AppendUint64(key, id)
}

func unitKey(addr common.Address, contractID, unitID uint64) []byte {
	key := append(append([]byte(nil), unitRecordPrefix...), addr.Bytes()...)
	key = binary.BigEndian.AppendUint64(key, contractID)
	return binary.BigEndian.AppendUint64(key, unitID)
}

type store struct {
	state kvState
}

func (s store) instance(addr common.Address) (*Instance, bool, error) {
	var inst Instance
	ok, err := s.state.KVGet(instanceKey(addr), &inst)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &inst, true, nil
}

func (s store) putInstance(inst *Instance, isNew bool) error {
	if err := s.state.KVPut(instanceKey(inst.Address), inst); err != nil {
		return fmt.Errorf("escrow: store instance: %w", err)
	}
	if isNew {
		return s.state.KVAppend(instanceIndexKey, inst.Address.Bytes())
	}
	return nil
}

func (s store) instances() ([]common.Address, error) {
	var raw [][]byte
	if err := s.state.KVGetList(instanceIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}

func (s store) contract(addr common.Address, id uint64) (*Contract, bool, error) {
	var c Contract
	ok, err := s.state.KVGet(contractKey(addr, id), &c)
	if err != nil || !ok {
		return nil, ok, err
	}
	if c.Prepayment == nil {
		c.Prepayment = cloneBigInt(nil)
	}
	return &c, true, nil
}

func (s store) putContract(addr common.Address, c *Contract, isNew bool) error {
	if err := s.state.KVPut(contractKey(addr, c.ID), c); err != nil {
		return fmt.Errorf("escrow: store contract: %w", err)
	}
	if isNew {
		return s.state.KVAppend(contractIndexKey(addr), binary.BigEndian.AppendUint64(nil, c.ID))
	}
	return nil
}

func (s store) contractIDs(addr common.Address) ([]uint64, error) {
	var raw [][]byte
	if err := s.state.KVGetList(contractIndexKey(addr), &raw); err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if len(b) == 8 {
			out = append(out, binary.BigEndian.Uint64(b))
		}
	}
	return out, nil
}

func (s store) unit(addr common.Address, contractID, unitID uint64) (*Unit, bool, error) {
	var u Unit
	ok, err := s.state.KVGet(unitKey(addr, contractID, unitID), &u)
	if err != nil || !ok {
		return nil, ok, err
	}
	u.normalize()
	return &u, true, nil
}

func (s store) putUnit(addr common.Address, contractID, unitID uint64, u *Unit) error {
	if err := s.state.KVPut(unitKey(addr, contractID, unitID), u); err != nil {
		return fmt.Errorf("escrow: store unit: %w", err)
	}
	return nil
}
