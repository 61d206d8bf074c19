package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"workescrow/core/events"
)

var (
	ErrInvalidAmount          = errors.New("bank: invalid amount")
	ErrInsufficientBalance    = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance  = errors.New("bank: insufficient allowance")
	ErrBalanceOverflow        = errors.New("bank: balance exceeds 256 bits")
	ErrZeroAddress            = errors.New("bank: zero address")
	errLedgerStateUnavailable = errors.New("bank: state not configured")
)

type ledgerState interface {
	Balance(token, owner common.Address) (*big.Int, error)
	SetBalance(token, owner common.Address, amount *big.Int) error
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	SetAllowance(token, owner, spender common.Address, amount *big.Int) error
}

// Ledger is a fungible token ledger keyed by token address. Balances and
// allowances live in state so they roll back together with the caller's
// other writes.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger constructs a ledger over state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// ValidateAmount rejects negative values and values that do not fit in an
// unsigned 256-bit word.
func ValidateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, amount)
	}
	return nil
}

// BalanceOf returns the balance of owner for token.
func (l *Ledger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errLedgerStateUnavailable
	}
	return l.state.Balance(token, owner)
}

// Allowance returns how much spender may still move for owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errLedgerStateUnavailable
	}
	return l.state.Allowance(token, owner, spender)
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errLedgerStateUnavailable
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if err := l.state.SetAllowance(token, owner, spender, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Approval{Token: token, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint credits amount of token to the recipient.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errLedgerStateUnavailable
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if err := l.credit(token, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Mint{Token: token, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errLedgerStateUnavailable
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.debit(token, from, amount); err != nil {
		return err
	}
	if err := l.credit(token, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferFrom moves amount of token from one account to another using the
// allowance granted to spender.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errLedgerStateUnavailable
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	allowance, err := l.state.Allowance(token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.state.SetAllowance(token, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.Transfer(token, from, to, amount)
}

func (l *Ledger) debit(token, owner common.Address, amount *big.Int) error {
	balance, err := l.state.Balance(token, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, owner.Hex(), balance, amount)
	}
	return l.state.SetBalance(token, owner, new(big.Int).Sub(balance, amount))
}

func (l *Ledger) credit(token, owner common.Address, amount *big.Int) error {
	balance, err := l.state.Balance(token, owner)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(balance, amount)
	if err := ValidateAmount(next); err != nil {
		return err
	}
	return l.state.SetBalance(token, owner, next)
}
