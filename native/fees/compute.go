package fees

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxBps is the largest accepted basis-point value (100.00%).
const MaxBps = 10_000

var (
	ErrFeeTooHigh                  = errors.New("fees: fee too high")
	ErrUnsupportedFeeConfiguration = errors.New("fees: unsupported fee configuration")
	ErrZeroAddressProvided         = errors.New("fees: zero address provided")
	ErrInvalidAmount               = errors.New("fees: invalid amount")
)

var bpsDenominator = big.NewInt(MaxBps)

// Schedule is the coverage and claim fee pair applied to one party.
type Schedule struct {
	CoverageBps uint16 `json:"coverageBps" yaml:"coverage_bps" toml:"CoverageBps"`
	ClaimBps    uint16 `json:"claimBps" yaml:"claim_bps" toml:"ClaimBps"`
}

// Validate ensures each basis-point field is within bounds.
func (s Schedule) Validate() error {
	if s.CoverageBps > MaxBps {
		return fmt.Errorf("%w: coverage %d bps", ErrFeeTooHigh, s.CoverageBps)
	}
	if s.ClaimBps > MaxBps {
		return fmt.Errorf("%w: claim %d bps", ErrFeeTooHigh, s.ClaimBps)
	}
	return nil
}

func portion(amount *big.Int, bps uint64) *big.Int {
	if bps == 0 || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsDenominator)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// DepositAmountAndFee computes the total pulled from the payer and the fee
// part of it for a nominal amount funded under cfg.
func DepositAmountAndFee(amount *big.Int, cfg Config, schedule Schedule) (total *big.Int, fee *big.Int, err error) {
	if err := checkAmount(amount); err != nil {
		return nil, nil, err
	}
	switch cfg {
	case ClientCoversAll:
		fee = portion(amount, uint64(schedule.CoverageBps)+uint64(schedule.ClaimBps))
	case ClientCoversOnly:
		fee = portion(amount, uint64(schedule.CoverageBps))
	case NoFees:
		fee = big.NewInt(0)
	default:
		return nil, nil, fmt.Errorf("%w: %s at deposit", ErrUnsupportedFeeConfiguration, cfg)
	}
	return new(big.Int).Add(amount, fee), fee, nil
}

// ClaimableAmountAndFee computes what the payee receives for a nominal
// amount, the claim fee withheld from it and the client-side fee that was
// collected for it at funding time.
func ClaimableAmountAndFee(amount *big.Int, cfg Config, schedule Schedule) (claimable, claimFee, clientFee *big.Int, err error) {
	if err := checkAmount(amount); err != nil {
		return nil, nil, nil, err
	}
	switch cfg {
	case ClientCoversAll:
		return new(big.Int).Set(amount), big.NewInt(0),
			portion(amount, uint64(schedule.CoverageBps)+uint64(schedule.ClaimBps)), nil
	case ClientCoversOnly:
		claimFee = portion(amount, uint64(schedule.ClaimBps))
		return new(big.Int).Sub(amount, claimFee), claimFee, portion(amount, uint64(schedule.CoverageBps)), nil
	case ContractorCoversClaim:
		claimFee = portion(amount, uint64(schedule.ClaimBps))
		return new(big.Int).Sub(amount, claimFee), claimFee, big.NewInt(0), nil
	case NoFees:
		return new(big.Int).Set(amount), big.NewInt(0), big.NewInt(0), nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: %s at claim", ErrUnsupportedFeeConfiguration, cfg)
	}
}
