package escrow

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/native/fees"
)

func TestSubmit(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	data, salt := []byte("report"), []byte("pepper")
	h.deposit(1, UnitDeposit{Amount: ether(1), FeeConfig: fees.NoFees, ContractorDataHash: ContractorCommitment(contractor, data, salt)})

	wrong := h.submitRequest(1, 0, []byte("other"), salt)
	expectErr(t, h.engine.Submit(h.ctx, h.instance, contractor, 1, 0, wrong), ErrInvalidContractorDataHash)
	// The commitment binds the contractor too.
	expectErr(t, h.engine.Submit(h.ctx, h.instance, stranger, 1, 0, h.submitRequest(1, 0, data, salt)), ErrInvalidContractorDataHash)

	expired := h.submitRequest(1, 0, data, salt)
	h.engine.SetNowFunc(func() int64 { return int64(expired.Authorization.Expiration) + 1 })
	expectErr(t, h.engine.Submit(h.ctx, h.instance, contractor, 1, 0, expired), ErrAuthorizationExpired)
	h.engine.SetNowFunc(func() int64 { return testNow })

	unsigned := h.submitRequest(1, 0, data, salt)
	unsigned.Authorization.Signature = nil
	expectErr(t, h.engine.Submit(h.ctx, h.instance, contractor, 1, 0, unsigned), ErrInvalidSignature)

	if err := h.engine.Submit(h.ctx, h.instance, contractor, 1, 0, h.submitRequest(1, 0, data, salt)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusSubmitted)
	if unit.Contractor != contractor {
		t.Fatalf("submit did not bind the contractor")
	}
	expectErr(t, h.engine.Submit(h.ctx, h.instance, contractor, 1, 0, h.submitRequest(1, 0, data, salt)), ErrInvalidStatusForSubmit)
	expectErr(t, h.engine.Submit(h.ctx, h.instance, contractor, 1, 4, h.submitRequest(1, 4, data, salt)), ErrInvalidMilestoneID)

	for _, variant := range []Variant{VariantFixed, VariantHourly} {
		other := newHarness(t, variant)
		other.deposit(1, UnitDeposit{Amount: ether(1), FeeConfig: fees.NoFees})
		err := other.engine.Submit(other.ctx, other.instance, contractor, 1, 0, other.submitRequest(1, 0, data, salt))
		expectErr(t, err, ErrSubmitNotSupported)
	}
}

func TestApproveValidation(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Amount: ether(1), FeeConfig: fees.NoFees})

	expectErr(t, h.engine.Approve(h.ctx, h.instance, stranger, 1, 0, ether(1), contractor), ErrUnauthorizedAccount)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, big.NewInt(0), contractor), ErrInvalidAmount)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), common.Address{}), ErrUnauthorizedReceiver)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(2), contractor), ErrNotEnoughDeposit)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 1, ether(1), contractor), ErrInvalidContractID)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 2, 0, ether(1), contractor), ErrInvalidContractID)
	expectErr(t, h.engine.AdminApprove(h.ctx, h.instance, stranger, 1, 0, ether(1), contractor, false), ErrUnauthorizedAccount)
	expectErr(t, h.engine.AdminApprove(h.ctx, h.instance, h.admin.Address(), 1, 0, ether(1), contractor, true), ErrUnsupportedOperation)

	if err := h.engine.AdminApprove(h.ctx, h.instance, h.admin.Address(), 1, 0, milliEther(400), contractor, false); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusApproved)
	if unit.Contractor != contractor {
		t.Fatalf("approve did not bind the receiver")
	}
	expectAmount(t, "amount to claim", unit.AmountToClaim, milliEther(400))
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, milliEther(100), contractor), ErrInvalidStatusForApprove)

	attrs := h.rec.last(EventTypeApproved)
	if attrs["approved"] != milliEther(400).String() || attrs["admin"] != "true" {
		t.Fatalf("unexpected approve event %v", attrs)
	}
}

func TestApproveRejectsOtherReceiverOnceBound(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), stranger), ErrUnauthorizedReceiver)
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestRefills(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.ClientCoversOnly})

	_, err := h.engine.RefillClaim(h.ctx, h.instance, client, 1, 0, ether(1))
	expectErr(t, err, ErrNotApproved)
	_, err = h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 0, big.NewInt(0))
	expectErr(t, err, ErrInvalidAmount)
	_, err = h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 3, ether(1))
	expectErr(t, err, ErrInvalidContractID)
	_, err = h.engine.RefillPrepayment(h.ctx, h.instance, stranger, 1, 0, ether(1))
	expectErr(t, err, ErrUnauthorizedAccount)

	receipt, err := h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 0, ether(1))
	if err != nil {
		t.Fatalf("refill: %v", err)
	}
	expectAmount(t, "refill total", receipt.Total, milliEther(1030))
	expectAmount(t, "unit amount", h.unit(1, 0).Amount, ether(2))

	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.engine.RefillClaim(h.ctx, h.instance, client, 1, 0, ether(1)); err != nil {
		t.Fatalf("refill claim: %v", err)
	}
	unit := h.unit(1, 0)
	expectAmount(t, "amount", unit.Amount, ether(3))
	expectAmount(t, "amount to claim", unit.AmountToClaim, ether(2))

	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := h.engine.ApproveReturn(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if _, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectStatus(t, h.unit(1, 0), StatusCanceled)
	_, err = h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 0, ether(1))
	expectErr(t, err, ErrInvalidStatusForRefill)
	expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
}

func TestCancelReturn(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	expectErr(t, h.engine.CancelReturn(h.ctx, h.instance, client, 1, 0, StatusActive), ErrNoReturnRequested)
	expectErr(t, h.engine.ApproveReturn(h.ctx, h.instance, contractor, 1, 0), ErrNoReturnRequested)
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	expectErr(t, h.engine.CancelReturn(h.ctx, h.instance, stranger, 1, 0, StatusActive), ErrUnauthorizedAccount)
	expectErr(t, h.engine.CancelReturn(h.ctx, h.instance, client, 1, 0, StatusApproved), ErrInvalidStatusProvided)
	expectErr(t, h.engine.CancelReturn(h.ctx, h.instance, client, 1, 0, StatusSubmitted), ErrInvalidStatusProvided)
	if err := h.engine.CancelReturn(h.ctx, h.instance, client, 1, 0, StatusActive); err != nil {
		t.Fatalf("cancel return: %v", err)
	}
	expectStatus(t, h.unit(1, 0), StatusActive)

	m := newHarness(t, VariantMilestone)
	m.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	if err := m.engine.RequestReturn(m.ctx, m.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := m.engine.CancelReturn(m.ctx, m.instance, client, 1, 0, StatusSubmitted); err != nil {
		t.Fatalf("cancel return to submitted: %v", err)
	}
	expectStatus(t, m.unit(1, 0), StatusSubmitted)
}

func TestHourlyWeeks(t *testing.T) {
	h := newHarness(t, VariantHourly)
	receipt := h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(10), FeeConfig: fees.ClientCoversOnly})
	expectAmount(t, "prepayment charge", receipt.Total, milliEther(10300))
	contract := h.contract(1)
	expectAmount(t, "prepayment", contract.Prepayment, ether(10))
	if contract.UnitCount != 1 {
		t.Fatalf("expected week 0 to be open, got %d weeks", contract.UnitCount)
	}
	week := h.unit(1, 0)
	expectStatus(t, week, StatusActive)
	expectAmount(t, "week 0 principal", week.Amount, big.NewInt(0))

	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(11), contractor), ErrNotEnoughDeposit)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), stranger), ErrUnauthorizedReceiver)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 1, ether(1), contractor), ErrInvalidWeekID)
	_, err := h.engine.StartNextWeek(h.ctx, h.instance, client, 1)
	expectErr(t, err, ErrInvalidStatusProvided)

	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(4), contractor); err != nil {
		t.Fatalf("approve week 0: %v", err)
	}
	expectAmount(t, "prepayment after approve", h.contract(1).Prepayment, ether(6))
	claim, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	if err != nil {
		t.Fatalf("claim week 0: %v", err)
	}
	expectAmount(t, "week 0 payout", claim.Claimable, milliEther(3800))
	expectStatus(t, h.unit(1, 0), StatusCompleted)
	expectErr(t, h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor), ErrInvalidStatusForApprove)

	_, err = h.engine.StartNextWeek(h.ctx, h.instance, stranger, 1)
	expectErr(t, err, ErrUnauthorizedAccount)
	weekID, err := h.engine.StartNextWeek(h.ctx, h.instance, client, 1)
	if err != nil {
		t.Fatalf("start next week: %v", err)
	}
	if weekID != 1 {
		t.Fatalf("expected week 1, got %d", weekID)
	}

	refill, err := h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 1, ether(2))
	if err != nil {
		t.Fatalf("refill prepayment: %v", err)
	}
	expectAmount(t, "refill total", refill.Total, milliEther(2060))
	expectAmount(t, "prepayment after refill", h.contract(1).Prepayment, ether(8))
	expectAmount(t, "week 1 untouched", h.unit(1, 1).Amount, big.NewInt(0))

	admin := h.admin.Address()
	expectErr(t, h.engine.AdminApprove(h.ctx, h.instance, admin, 1, 5, ether(3), contractor, true), ErrInvalidWeekID)
	expectErr(t, h.engine.AdminApprove(h.ctx, h.instance, client, 1, 2, ether(3), contractor, true), ErrUnauthorizedAccount)
	if err := h.engine.AdminApprove(h.ctx, h.instance, admin, 1, 2, ether(3), contractor, true); err != nil {
		t.Fatalf("admin approve next week: %v", err)
	}
	expectStatus(t, h.unit(1, 2), StatusApproved)
	expectAmount(t, "prepayment after week 2", h.contract(1).Prepayment, ether(5))

	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 1); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := h.engine.ApproveReturn(h.ctx, h.instance, admin, 1, 1); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	expectAmount(t, "prepayment absorbed", h.contract(1).Prepayment, big.NewInt(0))
	withdraw, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 1)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "refund", withdraw.Refunded, milliEther(5150))
	expectStatus(t, h.unit(1, 1), StatusCanceled)

	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 2); err != nil {
		t.Fatalf("claim week 2: %v", err)
	}
	expectStatus(t, h.unit(1, 2), StatusCompleted)
	expectAmount(t, "contractor", h.balance(contractor), milliEther(6650))
	expectAmount(t, "treasury", h.balance(treasury), milliEther(560))
	expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
	h.assertConserved(1)
}

func TestHourlyPausedRefill(t *testing.T) {
	h := newHarness(t, VariantHourly)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	h.update(func() error { return h.registry.SetPaused(owner, "escrow", true) })
	_, err := h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 0, ether(1))
	expectErr(t, err, ErrEscrowPaused)
	// Non value-moving transitions stay available while paused.
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve while paused: %v", err)
	}
}

func TestHourlyContractStatusFollowsCurrentWeek(t *testing.T) {
	h := newHarness(t, VariantHourly)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(10), FeeConfig: fees.ClientCoversOnly})
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(4), contractor); err != nil {
		t.Fatalf("approve week 0: %v", err)
	}
	if got := h.contract(1).Status; got != StatusApproved {
		t.Fatalf("contract status after approve: %s", got)
	}
	if _, err := h.engine.StartNextWeek(h.ctx, h.instance, client, 1); err != nil {
		t.Fatalf("start next week: %v", err)
	}
	if got := h.contract(1).Status; got != StatusActive {
		t.Fatalf("contract status after new week: %s", got)
	}

	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim week 0: %v", err)
	}
	expectStatus(t, h.unit(1, 0), StatusCompleted)
	contract := h.contract(1)
	if contract.CurrentUnit() != 1 || contract.Status != StatusActive {
		t.Fatalf("claiming an older week changed the contract: week=%d status=%s", contract.CurrentUnit(), contract.Status)
	}
}

func TestMilestoneContractStatusTracksFirstOpenMilestone(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	h.deposit(1,
		UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees},
		UnitDeposit{Contractor: contractor, Amount: ether(2), FeeConfig: fees.NoFees},
	)
	if got := h.contract(1).Status; got != StatusActive {
		t.Fatalf("contract status after funding: %s", got)
	}

	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 1, ether(2), contractor); err != nil {
		t.Fatalf("approve milestone 1: %v", err)
	}
	if got := h.contract(1).Status; got != StatusActive {
		t.Fatalf("approving a later milestone should not move the contract: %s", got)
	}

	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve milestone 0: %v", err)
	}
	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim milestone 0: %v", err)
	}
	if got := h.contract(1).Status; got != StatusApproved {
		t.Fatalf("expected milestone 1 to drive the status, got %s", got)
	}
	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 1); err != nil {
		t.Fatalf("claim milestone 1: %v", err)
	}
	if got := h.contract(1).Status; got != StatusCompleted {
		t.Fatalf("expected completed contract, got %s", got)
	}
}
