package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/types"
)

const (
	// TypeFeeDefaultsUpdated marks a change of the default fee schedule.
	TypeFeeDefaultsUpdated = "fees.defaults_updated"
	// TypeFeeSpecialSet marks a per-address fee override.
	TypeFeeSpecialSet = "fees.special_set"
	// TypeFeeSpecialReset marks the removal of a per-address override.
	TypeFeeSpecialReset = "fees.special_reset"
)

// FeeScheduleChanged records an update to the default or a special fee
// schedule. Account is zero for default updates.
type FeeScheduleChanged struct {
	Kind        string
	Account     common.Address
	CoverageBps uint16
	ClaimBps    uint16
}

// EventType satisfies the events.Event interface.
func (e FeeScheduleChanged) EventType() string { return e.Kind }

// Event converts the structured payload into a broadcastable event.
func (e FeeScheduleChanged) Event() *types.Event {
	attrs := map[string]string{
		"coverageBps": strconv.FormatUint(uint64(e.CoverageBps), 10),
		"claimBps":    strconv.FormatUint(uint64(e.ClaimBps), 10),
	}
	if e.Account != (common.Address{}) {
		attrs["account"] = formatAddress(e.Account)
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}
