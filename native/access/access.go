package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/events"
	"workescrow/core/types"
	nativecommon "workescrow/native/common"
)

// Role names understood by the manager.
const (
	RoleAdmin      = "escrow.admin"
	RoleGuardian   = "escrow.guardian"
	RoleStrategist = "escrow.strategist"
)

const (
	EventTypeRoleGranted  = "access.role_granted"
	EventTypeRoleRevoked  = "access.role_revoked"
	EventTypeOwnerChanged = "access.owner_changed"
)

var (
	ErrUnknownRole = errors.New("access: unknown role")
	ErrZeroAddress = errors.New("access: zero address provided")
)

var ownerKey = []byte("access/owner")

type roleState interface {
	SetRole(role string, addr common.Address) error
	RemoveRole(role string, addr common.Address) error
	HasRole(role string, addr common.Address) bool
	RoleMembers(role string) ([]common.Address, error)
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

// Manager stores the owner and the admin, guardian and strategist role sets.
// The owner manages membership and implicitly holds every role.
type Manager struct {
	state   roleState
	emitter events.Emitter
}

// NewManager constructs a role manager backed by state.
func NewManager(state roleState) *Manager {
	return &Manager{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleGuardian, RoleStrategist:
		return true
	default:
		return false
	}
}

// Owner returns the configured owner, or the zero address.
func (m *Manager) Owner() common.Address {
	var owner common.Address
	if ok, err := m.state.KVGet(ownerKey, &owner); err != nil || !ok {
		return common.Address{}
	}
	return owner
}

// Bootstrap sets the owner when none exists yet. It is used once by the
// daemon on first start.
func (m *Manager) Bootstrap(owner common.Address) error {
	if owner == (common.Address{}) {
		return ErrZeroAddress
	}
	if current := m.Owner(); current != (common.Address{}) {
		if current == owner {
			return nil
		}
		return fmt.Errorf("access: owner already set to %s", current.Hex())
	}
	return m.writeOwner(owner)
}

// TransferOwnership hands ownership to next. Only the current owner may call it.
func (m *Manager) TransferOwnership(caller, next common.Address) error {
	if caller != m.Owner() || caller == (common.Address{}) {
		return nativecommon.Unauthorized(caller)
	}
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	return m.writeOwner(next)
}

func (m *Manager) writeOwner(owner common.Address) error {
	if err := m.state.KVPut(ownerKey, owner); err != nil {
		return err
	}
	m.emitter.Emit(events.Typed{Evt: &types.Event{Type: EventTypeOwnerChanged, Attributes: map[string]string{
		"owner": owner.Hex(),
	}}})
	return nil
}

// Grant adds account to role.
func (m *Manager) Grant(caller common.Address, role string, account common.Address) error {
	if err := m.checkManage(caller, role, account); err != nil {
		return err
	}
	if err := m.state.SetRole(role, account); err != nil {
		return err
	}
	m.emitRole(EventTypeRoleGranted, role, account)
	return nil
}

// Revoke removes account from role.
func (m *Manager) Revoke(caller common.Address, role string, account common.Address) error {
	if err := m.checkManage(caller, role, account); err != nil {
		return err
	}
	if err := m.state.RemoveRole(role, account); err != nil {
		return err
	}
	m.emitRole(EventTypeRoleRevoked, role, account)
	return nil
}

func (m *Manager) checkManage(caller common.Address, role string, account common.Address) error {
	if owner := m.Owner(); owner == (common.Address{}) || caller != owner {
		return nativecommon.Unauthorized(caller)
	}
	if !validRole(role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	return nil
}

func (m *Manager) emitRole(eventType, role string, account common.Address) {
	m.emitter.Emit(events.Typed{Evt: &types.Event{Type: eventType, Attributes: map[string]string{
		"role":    role,
		"account": account.Hex(),
	}}})
}

func (m *Manager) hasRole(role string, addr common.Address) bool {
	if addr == (common.Address{}) {
		return false
	}
	if addr == m.Owner() {
		return true
	}
	return m.state.HasRole(role, addr)
}

// HasAdminRole reports whether addr may run admin operations.
func (m *Manager) HasAdminRole(addr common.Address) bool { return m.hasRole(RoleAdmin, addr) }

// HasGuardianRole reports whether addr may pause and unpause the registry.
func (m *Manager) HasGuardianRole(addr common.Address) bool { return m.hasRole(RoleGuardian, addr) }

// HasStrategistRole reports whether addr may manage the token allow-list.
func (m *Manager) HasStrategistRole(addr common.Address) bool {
	return m.hasRole(RoleStrategist, addr)
}

// Members lists the accounts explicitly granted role.
func (m *Manager) Members(role string) ([]common.Address, error) {
	if !validRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return m.state.RoleMembers(role)
}
