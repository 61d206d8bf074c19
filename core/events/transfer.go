package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/types"
)

const (
	// TypeTransfer is emitted for token ledger balance movements.
	TypeTransfer = "token.transfer"
	// TypeApproval is emitted when an owner sets a spender allowance.
	TypeApproval = "token.approval"
	// TypeMint is emitted when new units of a token are created.
	TypeMint = "token.mint"
)

type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"token":  formatAddress(e.Token),
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}}
}

type Approval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{Type: TypeApproval, Attributes: map[string]string{
		"token":   formatAddress(e.Token),
		"owner":   formatAddress(e.Owner),
		"spender": formatAddress(e.Spender),
		"amount":  formatAmount(e.Amount),
	}}
}

type Mint struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

func (Mint) EventType() string { return TypeMint }

func (e Mint) Event() *types.Event {
	return &types.Event{Type: TypeMint, Attributes: map[string]string{
		"token":  formatAddress(e.Token),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}}
}
