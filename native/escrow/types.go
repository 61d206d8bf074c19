package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/native/fees"
)

// MaxMilestonesPerCall bounds the number of milestones funded by one call.
const MaxMilestonesPerCall = 10

// Variant selects the payment shape of an escrow instance.
type Variant uint8

const (
	VariantUnknown Variant = iota
	VariantFixed
	VariantMilestone
	VariantHourly
)

var variantNames = map[Variant]string{
	VariantFixed:     "fixed",
	VariantMilestone: "milestone",
	VariantHourly:    "hourly",
}

// Valid reports whether the variant is one of the supported payment shapes.
func (v Variant) Valid() bool {
	_, ok := variantNames[v]
	return ok
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variant(%d)", uint8(v))
}

// ParseVariant converts a variant name into its enum value.
func ParseVariant(value string) (Variant, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for v, name := range variantNames {
		if name == normalized {
			return v, nil
		}
	}
	return VariantUnknown, fmt.Errorf("%w: %q", ErrInvalidVariant, value)
}

// Status is the lifecycle state of a unit. Fixed and hourly contracts mirror
// it at the contract level.
type Status uint8

const (
	StatusNone Status = iota
	StatusActive
	StatusSubmitted
	StatusApproved
	StatusCompleted
	StatusReturnRequested
	StatusDisputed
	StatusResolved
	StatusRefundApproved
	StatusCanceled
)

var statusNames = [...]string{
	StatusNone:            "NONE",
	StatusActive:          "ACTIVE",
	StatusSubmitted:       "SUBMITTED",
	StatusApproved:        "APPROVED",
	StatusCompleted:       "COMPLETED",
	StatusReturnRequested: "RETURN_REQUESTED",
	StatusDisputed:        "DISPUTED",
	StatusResolved:        "RESOLVED",
	StatusRefundApproved:  "REFUND_APPROVED",
	StatusCanceled:        "CANCELED",
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// ParseStatus converts the canonical status name into its enum value.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range statusNames {
		if name == normalized {
			return Status(i), nil
		}
	}
	return StatusNone, fmt.Errorf("%w: %q", ErrInvalidStatusProvided, value)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Winner is the outcome recorded when a dispute is resolved.
type Winner uint8

const (
	WinnerNone Winner = iota
	WinnerClient
	WinnerContractor
	WinnerSplit
)

var winnerNames = [...]string{
	WinnerNone:       "NONE",
	WinnerClient:     "CLIENT",
	WinnerContractor: "CONTRACTOR",
	WinnerSplit:      "SPLIT",
}

func (w Winner) String() string {
	if int(w) < len(winnerNames) {
		return winnerNames[w]
	}
	return fmt.Sprintf("WINNER(%d)", uint8(w))
}

// ParseWinner converts the canonical winner name into its enum value. Unknown
// names fail with ErrInvalidWinnerSpecified.
func ParseWinner(value string) (Winner, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range winnerNames {
		if name == normalized {
			return Winner(i), nil
		}
	}
	return WinnerNone, fmt.Errorf("%w: %q", ErrInvalidWinnerSpecified, value)
}

// MarshalText implements encoding.TextMarshaler.
func (w Winner) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Winner) UnmarshalText(text []byte) error {
	parsed, err := ParseWinner(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Unit is one fundable, independently claimable slice of escrowed value: the
// whole contract for fixed escrows, a milestone, or a billing week.
type Unit struct {
	Contractor         common.Address
	Amount             *big.Int
	AmountToClaim      *big.Int
	AmountToWithdraw   *big.Int
	FeeConfig          fees.Config
	ContractorDataHash common.Hash
	Status             Status
	Winner             Winner
}

// Clone returns a deep copy of the unit so callers can safely mutate the copy
// without affecting the stored instance.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	clone := *u
	clone.Amount = cloneBigInt(u.Amount)
	clone.AmountToClaim = cloneBigInt(u.AmountToClaim)
	clone.AmountToWithdraw = cloneBigInt(u.AmountToWithdraw)
	return &clone
}

// Unallocated returns the principal not yet earmarked for either party.
func (u *Unit) Unallocated() *big.Int {
	out := new(big.Int).Sub(cloneBigInt(u.Amount), cloneBigInt(u.AmountToClaim))
	return out.Sub(out, cloneBigInt(u.AmountToWithdraw))
}

func (u *Unit) normalize() {
	if u.Amount == nil {
		u.Amount = big.NewInt(0)
	}
	if u.AmountToClaim == nil {
		u.AmountToClaim = big.NewInt(0)
	}
	if u.AmountToWithdraw == nil {
		u.AmountToWithdraw = big.NewInt(0)
	}
}

// Contract is the per-contract ledger shared by the units of one agreement.
type Contract struct {
	ID         uint64
	Variant    Variant
	Token      common.Address
	Prepayment *big.Int
	Status     Status
	UnitCount  uint64
	// Contractor and FeeConfig are contract-wide for hourly agreements.
	Contractor common.Address
	FeeConfig  fees.Config
}

// Clone returns a deep copy of the contract.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Prepayment = cloneBigInt(c.Prepayment)
	return &clone
}

// CurrentUnit returns the index of the most recently created unit.
func (c *Contract) CurrentUnit() uint64 {
	if c == nil || c.UnitCount == 0 {
		return 0
	}
	return c.UnitCount - 1
}

// Instance is the bookkeeping record of one deployed escrow.
type Instance struct {
	Address     common.Address
	Variant     Variant
	Deployer    common.Address
	Salt        common.Hash
	Client      common.Address
	Initialized bool
}

// Clone returns a copy of the instance record.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
