package registry

import (
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/events"
	"workescrow/core/types"
	nativecommon "workescrow/native/common"
)

const (
	EventTypeTokenListed      = "registry.token_listed"
	EventTypeTokenDelisted    = "registry.token_delisted"
	EventTypeBlacklistUpdated = "registry.blacklist_updated"
	EventTypeTreasuryUpdated  = "registry.treasury_updated"
	EventTypeFeeManagerSet    = "registry.fee_manager_updated"
	EventTypePauseUpdated     = "registry.pause_updated"
)

// ErrZeroAddress is returned when a setter is given the zero address.
var ErrZeroAddress = errors.New("registry: zero address provided")

var (
	tokenPrefix     = []byte("registry/token/")
	blacklistPrefix = []byte("registry/blacklist/")
	pausePrefix     = []byte("registry/paused/")
	treasuryKey     = []byte("registry/treasury")
	feeManagerKey   = []byte("registry/fee-manager")
)

type registryState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
}

// Roles decides who may change registry settings.
type Roles interface {
	HasAdminRole(addr common.Address) bool
	HasGuardianRole(addr common.Address) bool
	HasStrategistRole(addr common.Address) bool
}

// Registry holds the global escrow configuration: the payment-token
// allow-list, blacklist, treasury, fee manager and pause flags.
type Registry struct {
	state   registryState
	roles   Roles
	emitter events.Emitter
}

// New constructs a registry backed by state.
func New(state registryState, roles Roles) *Registry {
	return &Registry{state: state, roles: roles, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func prefixed(prefix []byte, suffix []byte) []byte {
	return append(append([]byte(nil), prefix...), suffix...)
}

func (r *Registry) flag(key []byte) bool {
	var set bool
	ok, err := r.state.KVGet(key, &set)
	return err == nil && ok && set
}

func (r *Registry) writeFlag(key []byte, set bool) error {
	if !set {
		return r.state.KVDelete(key)
	}
	return r.state.KVPut(key, true)
}

func (r *Registry) address(key []byte) common.Address {
	var addr common.Address
	if ok, err := r.state.KVGet(key, &addr); err != nil || !ok {
		return common.Address{}
	}
	return addr
}

func (r *Registry) emit(eventType string, attrs map[string]string) {
	r.emitter.Emit(events.Typed{Evt: &types.Event{Type: eventType, Attributes: attrs}})
}

// IsPaymentTokenSupported reports whether token is allow-listed.
func (r *Registry) IsPaymentTokenSupported(token common.Address) bool {
	return r.flag(prefixed(tokenPrefix, token.Bytes()))
}

// IsBlacklisted reports whether addr is barred from moving escrowed value.
func (r *Registry) IsBlacklisted(addr common.Address) bool {
	return r.flag(prefixed(blacklistPrefix, addr.Bytes()))
}

// Treasury returns the fee recipient, or the zero address when unset.
func (r *Registry) Treasury() common.Address { return r.address(treasuryKey) }

// FeeManager returns the configured fee manager; zero means not configured.
func (r *Registry) FeeManager() common.Address { return r.address(feeManagerKey) }

// IsPaused implements nativecommon.PauseView.
func (r *Registry) IsPaused(module string) bool {
	return r.flag(prefixed(pausePrefix, []byte(module)))
}

// SetPaymentToken adds or removes token from the allow-list. Admins and
// strategists may call it.
func (r *Registry) SetPaymentToken(caller, token common.Address, supported bool) error {
	if r.roles == nil || !(r.roles.HasAdminRole(caller) || r.roles.HasStrategistRole(caller)) {
		return nativecommon.Unauthorized(caller)
	}
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := r.writeFlag(prefixed(tokenPrefix, token.Bytes()), supported); err != nil {
		return err
	}
	eventType := EventTypeTokenListed
	if !supported {
		eventType = EventTypeTokenDelisted
	}
	r.emit(eventType, map[string]string{"token": token.Hex()})
	return nil
}

// SetBlacklisted updates the blacklist entry for account.
func (r *Registry) SetBlacklisted(caller, account common.Address, blacklisted bool) error {
	if r.roles == nil || !r.roles.HasAdminRole(caller) {
		return nativecommon.Unauthorized(caller)
	}
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := r.writeFlag(prefixed(blacklistPrefix, account.Bytes()), blacklisted); err != nil {
		return err
	}
	r.emit(EventTypeBlacklistUpdated, map[string]string{
		"account":     account.Hex(),
		"blacklisted": strconv.FormatBool(blacklisted),
	})
	return nil
}

// SetTreasury updates the fee recipient.
func (r *Registry) SetTreasury(caller, treasury common.Address) error {
	if r.roles == nil || !r.roles.HasAdminRole(caller) {
		return nativecommon.Unauthorized(caller)
	}
	if treasury == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := r.state.KVPut(treasuryKey, treasury); err != nil {
		return err
	}
	r.emit(EventTypeTreasuryUpdated, map[string]string{"treasury": treasury.Hex()})
	return nil
}

// SetFeeManager records the fee manager address. Setting the zero address
// marks the fee manager as not configured.
func (r *Registry) SetFeeManager(caller, manager common.Address) error {
	if r.roles == nil || !r.roles.HasAdminRole(caller) {
		return nativecommon.Unauthorized(caller)
	}
	var err error
	if manager == (common.Address{}) {
		err = r.state.KVDelete(feeManagerKey)
	} else {
		err = r.state.KVPut(feeManagerKey, manager)
	}
	if err != nil {
		return err
	}
	r.emit(EventTypeFeeManagerSet, map[string]string{"feeManager": manager.Hex()})
	return nil
}

// SetPaused halts or resumes module. Guardians and admins may call it.
func (r *Registry) SetPaused(caller common.Address, module string, paused bool) error {
	if r.roles == nil || !(r.roles.HasGuardianRole(caller) || r.roles.HasAdminRole(caller)) {
		return nativecommon.Unauthorized(caller)
	}
	if module == "" {
		module = nativecommon.ModuleEscrow
	}
	if err := r.writeFlag(prefixed(pausePrefix, []byte(module)), paused); err != nil {
		return err
	}
	r.emit(EventTypePauseUpdated, map[string]string{
		"module": module,
		"paused": strconv.FormatBool(paused),
	})
	return nil
}
