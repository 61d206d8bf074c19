package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"workescrow/storage"
)

// Manager layers a journaled write overlay on top of a key-value database.
// Writes stay in memory until Commit so that a failed call can be rolled back
// to any snapshot taken earlier in the same call.
type Manager struct {
	db      storage.Database
	dirty   map[string]overlayEntry
	journal []journalEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    overlayEntry
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]overlayEntry)}
}

var (
	balancePrefix   = []byte("balance:")
	allowancePrefix = []byte("allowance:")
	rolePrefix      = []byte("role:")
)

func balanceKey(token, owner common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+2*common.AddressLength+1)
	buf = append(buf, balancePrefix...)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	buf := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength+2)
	buf = append(buf, allowancePrefix...)
	buf = append(buf, token.Bytes()...)
	buf = append(buf, ':')
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, ':')
	buf = append(buf, spender.Bytes()...)
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte, deleted bool) {
	key := string(hashed)
	prev, existed := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	m.dirty[key] = overlayEntry{value: append([]byte(nil), value...), deleted: deleted}
}

// Snapshot returns an identifier for the current overlay revision.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write recorded after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Commit flushes the overlay to the database in a single batch and clears the
// journal.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, key := range keys {
		entry := m.dirty[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := m.db.Write(batch); err != nil {
		return err
	}
	m.dirty = make(map[string]overlayEntry)
	m.journal = m.journal[:0]
	return nil
}

// Pending reports the number of keys modified since the last commit.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(token, owner common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	m.write(balanceKey(token, owner), encoded, false)
	return nil
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(token, owner common.Address) (*big.Int, error) {
	data, err := m.read(balanceKey(token, owner))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetAllowance records how much spender may move on behalf of owner.
func (m *Manager) SetAllowance(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	m.write(allowanceKey(token, owner, spender), encoded, false)
	return nil
}

// Allowance returns the remaining amount spender may move for owner.
func (m *Manager) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	data, err := m.read(allowanceKey(token, owner, spender))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("address must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if existing == addr {
			return nil
		}
	}
	members = append(members, addr)
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i][:], members[j][:]) < 0
	})
	return m.writeRole(trimmed, members)
}

// RemoveRole drops the address from the role. Removing a non-member is a
// no-op.
func (m *Manager) RemoveRole(role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, existing := range members {
		if existing != addr {
			kept = append(kept, existing)
		}
	}
	return m.writeRole(trimmed, kept)
}

func (m *Manager) writeRole(role string, members []common.Address) error {
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	m.write(roleKey(role), encoded, false)
	return nil
}

// RoleMembers returns all addresses assigned to the provided role.
func (m *Manager) RoleMembers(role string) ([]common.Address, error) {
	data, err := m.read(roleKey(strings.TrimSpace(role)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []common.Address{}, nil
	}
	var members []common.Address
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a false
// return, matching the best-effort semantics required by the callers.
func (m *Manager) HasRole(role string, addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded, false)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil, true)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
