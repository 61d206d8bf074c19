package escrow

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/types"
)

const (
	EventTypeInstanceDeployed = "escrow.instance_deployed"
	EventTypeInitialized      = "escrow.initialized"
	EventTypeDeposited        = "escrow.deposited"
	EventTypeMilestonesAdded  = "escrow.milestones_added"
	EventTypeWeekStarted      = "escrow.week_started"
	EventTypeSubmitted        = "escrow.submitted"
	EventTypeApproved         = "escrow.approved"
	EventTypeRefilled         = "escrow.refilled"
	EventTypeClaimed          = "escrow.claimed"
	EventTypeBulkClaimed      = "escrow.bulk_claimed"
	EventTypeReturnRequested  = "escrow.return_requested"
	EventTypeReturnApproved   = "escrow.return_approved"
	EventTypeReturnCanceled   = "escrow.return_canceled"
	EventTypeDisputeCreated   = "escrow.dispute_created"
	EventTypeDisputeResolved  = "escrow.dispute_resolved"
	EventTypeWithdrawn        = "escrow.withdrawn"
)

func hexAddr(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewInstanceDeployedEvent returns the payload emitted when an instance is
// recorded.
func NewInstanceDeployedEvent(inst *Instance) *types.Event {
	return &types.Event{Type: EventTypeInstanceDeployed, Attributes: map[string]string{
		"instance": hexAddr(inst.Address),
		"variant":  inst.Variant.String(),
		"deployer": hexAddr(inst.Deployer),
		"salt":     inst.Salt.Hex(),
	}}
}

// NewInitializedEvent returns the payload emitted when an instance binds its
// client.
func NewInitializedEvent(inst *Instance) *types.Event {
	return &types.Event{Type: EventTypeInitialized, Attributes: map[string]string{
		"instance": hexAddr(inst.Address),
		"variant":  inst.Variant.String(),
		"client":   hexAddr(inst.Client),
	}}
}

// NewDepositedEvent is emitted for a new contract and for milestones appended
// to an existing one.
func NewDepositedEvent(eventType string, inst *Instance, contract *Contract, firstUnit uint64, units int, total, fee *big.Int) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"instance":   hexAddr(inst.Address),
		"client":     hexAddr(inst.Client),
		"contractId": strconv.FormatUint(contract.ID, 10),
		"token":      hexAddr(contract.Token),
		"firstUnit":  strconv.FormatUint(firstUnit, 10),
		"units":      strconv.Itoa(units),
		"total":      amountString(total),
		"fee":        amountString(fee),
		"prepayment": amountString(contract.Prepayment),
	}}
}

// NewUnitEvent returns the canonical payload of a single-unit transition.
// extra attributes are merged over the unit snapshot.
func NewUnitEvent(eventType string, inst *Instance, contractID, unitID uint64, unit *Unit, extra map[string]string) *types.Event {
	attrs := map[string]string{
		"instance":   hexAddr(inst.Address),
		"contractId": strconv.FormatUint(contractID, 10),
		"unitId":     strconv.FormatUint(unitID, 10),
	}
	if unit != nil {
		attrs["contractor"] = hexAddr(unit.Contractor)
		attrs["status"] = unit.Status.String()
		attrs["amount"] = amountString(unit.Amount)
		attrs["amountToClaim"] = amountString(unit.AmountToClaim)
		attrs["amountToWithdraw"] = amountString(unit.AmountToWithdraw)
		if unit.Winner != WinnerNone {
			attrs["winner"] = unit.Winner.String()
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewBulkClaimedEvent summarises one ClaimAll call.
func NewBulkClaimedEvent(inst *Instance, contractID uint64, contractor common.Address, receipt *BulkClaimReceipt) *types.Event {
	return &types.Event{Type: EventTypeBulkClaimed, Attributes: map[string]string{
		"instance":     hexAddr(inst.Address),
		"contractId":   strconv.FormatUint(contractID, 10),
		"contractor":   hexAddr(contractor),
		"start":        strconv.FormatUint(receipt.Start, 10),
		"end":          strconv.FormatUint(receipt.End, 10),
		"claimed":      amountString(receipt.Claimed),
		"claimFee":     amountString(receipt.ClaimFee),
		"clientFee":    amountString(receipt.ClientFee),
		"claimedUnits": strconv.Itoa(len(receipt.Units)),
		"skippedUnits": strconv.Itoa(receipt.Skipped),
	}}
}
