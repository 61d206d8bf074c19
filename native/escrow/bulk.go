package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/observability/metrics"
)

// BulkClaimReceipt aggregates one ClaimAll call.
type BulkClaimReceipt struct {
	Start     uint64
	End       uint64
	Claimed   *big.Int
	ClaimFee  *big.Int
	ClientFee *big.Int
	// Units lists the indices that were settled.
	Units   []uint64
	Skipped int
}

// ClaimAll settles every unit in [start, end] that is bound to caller and
// claimable. Other units are skipped. The contractor and the treasury each
// receive a single aggregated transfer.
func (e *Engine) ClaimAll(ctx context.Context, instance, caller common.Address, contractID, start, end uint64) (*BulkClaimReceipt, error) {
	var receipt *BulkClaimReceipt
	err := e.run(ctx, "claim_all", func() error {
		if start > end {
			return fmt.Errorf("%w: %d > %d", ErrInvalidRange, start, end)
		}
		inst, lc, err := e.loadInstance(instance)
		if err != nil {
			return err
		}
		if err := e.guardPaused(); err != nil {
			return err
		}
		contract, err := e.loadContract(inst, lc, contractID)
		if err != nil {
			return err
		}
		if end >= contract.UnitCount {
			return fmt.Errorf("%w: %d >= %d", ErrOutOfRange, end, contract.UnitCount)
		}
		if err := e.checkNotBlacklisted(caller, inst.Client); err != nil {
			return err
		}
		treasury, err := e.treasury()
		if err != nil {
			return err
		}

		st := e.store()
		receipt = &BulkClaimReceipt{
			Start:     start,
			End:       end,
			Claimed:   big.NewInt(0),
			ClaimFee:  big.NewInt(0),
			ClientFee: big.NewInt(0),
		}
		for id := start; ; id++ {
			unit, ok, err := st.unit(inst.Address, contractID, id)
			if err != nil {
				return err
			}
			if !ok || unit.Contractor != caller || unit.claimable() != nil {
				receipt.Skipped++
			} else {
				claimable, claimFee, clientFee, err := e.fees.ComputeClaimableAmountAndFee(unit.AmountToClaim, unit.FeeConfig, caller)
				if err != nil {
					return err
				}
				unit.settleClaim()
				if err := e.saveUnit(inst, contract, id, unit); err != nil {
					return err
				}
				receipt.Claimed.Add(receipt.Claimed, claimable)
				receipt.ClaimFee.Add(receipt.ClaimFee, claimFee)
				receipt.ClientFee.Add(receipt.ClientFee, clientFee)
				receipt.Units = append(receipt.Units, id)
			}
			if id == end {
				break
			}
		}

		toTreasury := new(big.Int).Add(receipt.ClaimFee, receipt.ClientFee)
		if err := e.pay(contract.Token, inst.Address, caller, receipt.Claimed, "contractor"); err != nil {
			return err
		}
		if err := e.pay(contract.Token, inst.Address, treasury, toTreasury, "treasury"); err != nil {
			return err
		}
		e.emit(NewBulkClaimedEvent(inst, contractID, caller, receipt))
		claimed, skipped := len(receipt.Units), receipt.Skipped
		variant := lc.variant().String()
		e.observe(func(m *metrics.EscrowMetrics) {
			m.ObserveTransition("claim_all", variant)
			m.ObserveBulkClaim(claimed, skipped)
			m.ObserveFee("claim_all", toTreasury)
		})
		return nil
	})
	return receipt, err
}
