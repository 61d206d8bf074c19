package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/events"
	nativecommon "workescrow/native/common"
	"workescrow/native/fees"
)

func TestFixedClientCoversOnlyClaim(t *testing.T) {
	h := newHarness(t, VariantFixed)
	receipt := h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.ClientCoversOnly})
	expectAmount(t, "deposit total", receipt.Total, milliEther(1030))
	expectAmount(t, "deposit fee", receipt.Fee, milliEther(30))
	expectAmount(t, "client charged", h.spent(), milliEther(1030))
	expectAmount(t, "vault after deposit", h.balance(h.instance), milliEther(1030))

	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	claim, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "claimable", claim.Claimable, milliEther(950))
	expectAmount(t, "claim fee", claim.ClaimFee, milliEther(50))
	expectAmount(t, "client fee", claim.ClientFee, milliEther(30))
	expectAmount(t, "contractor balance", h.balance(contractor), milliEther(950))
	expectAmount(t, "treasury balance", h.balance(treasury), milliEther(80))
	expectAmount(t, "vault balance", h.balance(h.instance), big.NewInt(0))

	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusCompleted)
	expectAmount(t, "unit amount", unit.Amount, big.NewInt(0))
	if h.contract(1).Status != StatusCompleted {
		t.Fatalf("expected contract to mirror the completed unit, got %s", h.contract(1).Status)
	}
}

func TestClientCoversAllPrepaysEveryFee(t *testing.T) {
	h := newHarness(t, VariantFixed)
	receipt := h.deposit(7, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.ClientCoversAll})
	expectAmount(t, "deposit total", receipt.Total, milliEther(1080))
	expectAmount(t, "deposit fee", receipt.Fee, milliEther(80))

	if err := h.engine.Approve(h.ctx, h.instance, client, 7, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	claim, err := h.engine.Claim(h.ctx, h.instance, contractor, 7, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, "claimable", claim.Claimable, ether(1))
	expectAmount(t, "claim fee", claim.ClaimFee, big.NewInt(0))
	expectAmount(t, "contractor", h.balance(contractor), ether(1))
	expectAmount(t, "treasury", h.balance(treasury), milliEther(80))
	expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
}

func TestMilestoneClaimAllSettlesOnlyEligibleUnits(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	data := [][]byte{[]byte("design"), []byte("build"), []byte("ship")}
	salt := []byte("salt")
	configs := []fees.Config{fees.ClientCoversAll, fees.ClientCoversOnly, fees.NoFees}
	var units []UnitDeposit
	for i, cfg := range configs {
		units = append(units, UnitDeposit{
			Amount:             ether(int64(i + 1)),
			FeeConfig:          cfg,
			ContractorDataHash: ContractorCommitment(contractor, data[i], salt),
		})
	}
	receipt := h.deposit(3, units...)
	if receipt.CurrentUnit != 2 {
		t.Fatalf("expected current unit 2, got %d", receipt.CurrentUnit)
	}
	expectAmount(t, "client charged", h.spent(), milliEther(6140))

	for id := uint64(0); id < 3; id++ {
		if err := h.engine.Submit(h.ctx, h.instance, contractor, 3, id, h.submitRequest(3, id, data[id], salt)); err != nil {
			t.Fatalf("submit %d: %v", id, err)
		}
	}
	if err := h.engine.Approve(h.ctx, h.instance, client, 3, 1, ether(2), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}

	h.rec.got = nil
	bulk, err := h.engine.ClaimAll(h.ctx, h.instance, contractor, 3, 0, 2)
	if err != nil {
		t.Fatalf("claim all: %v", err)
	}
	if len(bulk.Units) != 1 || bulk.Units[0] != 1 || bulk.Skipped != 2 {
		t.Fatalf("unexpected bulk receipt: units %v skipped %d", bulk.Units, bulk.Skipped)
	}
	expectAmount(t, "claimed", bulk.Claimed, milliEther(1900))
	expectAmount(t, "claim fee", bulk.ClaimFee, milliEther(100))
	expectAmount(t, "client fee", bulk.ClientFee, milliEther(60))
	expectAmount(t, "contractor", h.balance(contractor), milliEther(1900))
	expectAmount(t, "treasury", h.balance(treasury), milliEther(160))
	expectAmount(t, "vault", h.balance(h.instance), milliEther(4080))

	expectStatus(t, h.unit(3, 0), StatusSubmitted)
	expectStatus(t, h.unit(3, 1), StatusCompleted)
	expectStatus(t, h.unit(3, 2), StatusSubmitted)
	h.assertConserved(3)

	bulkEvents := 0
	for _, evt := range h.rec.got {
		if evt.EventType() == EventTypeBulkClaimed {
			bulkEvents++
		}
	}
	if bulkEvents != 1 {
		t.Fatalf("expected one bulk event, got %d", bulkEvents)
	}
	attrs := h.rec.last(EventTypeBulkClaimed)
	if attrs["claimed"] != milliEther(1900).String() || attrs["claimedUnits"] != "1" || attrs["skippedUnits"] != "2" {
		t.Fatalf("unexpected bulk event attributes: %v", attrs)
	}
}

func TestClaimAllWithNothingEligibleStillEmits(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	bulk, err := h.engine.ClaimAll(h.ctx, h.instance, contractor, 1, 0, 0)
	if err != nil {
		t.Fatalf("claim all: %v", err)
	}
	if len(bulk.Units) != 0 || bulk.Skipped != 1 || bulk.Claimed.Sign() != 0 {
		t.Fatalf("expected an empty bulk claim, got %+v", bulk)
	}
	if h.rec.last(EventTypeBulkClaimed) == nil {
		t.Fatalf("expected bulk event for an empty claim")
	}
	expectAmount(t, "contractor", h.balance(contractor), big.NewInt(0))
}

func TestClaimAllRangeValidation(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	h.deposit(1,
		UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees},
		UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees},
	)
	_, err := h.engine.ClaimAll(h.ctx, h.instance, contractor, 1, 1, 0)
	expectErr(t, err, ErrInvalidRange)
	_, err = h.engine.ClaimAll(h.ctx, h.instance, contractor, 99, 1, 0)
	expectErr(t, err, ErrInvalidRange)
	_, err = h.engine.ClaimAll(h.ctx, h.instance, contractor, 1, 0, 2)
	expectErr(t, err, ErrOutOfRange)
	_, err = h.engine.ClaimAll(h.ctx, h.instance, contractor, 1, 0, 50)
	expectErr(t, err, ErrOutOfRange)

	h.update(func() error { return h.registry.SetBlacklisted(owner, contractor, true) })
	_, err = h.engine.ClaimAll(h.ctx, h.instance, contractor, 1, 0, 1)
	expectErr(t, err, ErrBlacklistedAccount)
}

func TestSplitResolutionSettlesBothSides(t *testing.T) {
	for _, withdrawFirst := range []bool{true, false} {
		h := newHarness(t, VariantFixed)
		h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(2), FeeConfig: fees.ClientCoversOnly})
		if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
			t.Fatalf("request return: %v", err)
		}
		if err := h.engine.CreateDispute(h.ctx, h.instance, contractor, 1, 0); err != nil {
			t.Fatalf("create dispute: %v", err)
		}
		if err := h.engine.ResolveDispute(h.ctx, h.instance, h.admin.Address(), 1, 0, WinnerSplit, ether(1), ether(1)); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		unit := h.unit(1, 0)
		expectStatus(t, unit, StatusResolved)
		if unit.Winner != WinnerSplit {
			t.Fatalf("expected split winner, got %s", unit.Winner)
		}

		withdraw := func() {
			receipt, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0)
			if err != nil {
				t.Fatalf("withdraw: %v", err)
			}
			expectAmount(t, "refunded principal", receipt.Refunded, ether(1))
			expectAmount(t, "fee portion", receipt.Fee, milliEther(30))
		}
		claim := func() {
			receipt, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			expectAmount(t, "claimable", receipt.Claimable, milliEther(950))
		}
		final := StatusCompleted
		if withdrawFirst {
			withdraw()
			expectStatus(t, h.unit(1, 0), StatusResolved)
			claim()
		} else {
			claim()
			expectStatus(t, h.unit(1, 0), StatusResolved)
			withdraw()
			final = StatusCanceled
		}
		expectStatus(t, h.unit(1, 0), final)
		expectAmount(t, "client net spend", h.spent(), milliEther(1060))
		expectAmount(t, "contractor", h.balance(contractor), milliEther(950))
		expectAmount(t, "treasury", h.balance(treasury), milliEther(110))
		expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
	}
}

func TestResolutionBoundForEveryWinner(t *testing.T) {
	for _, winner := range []Winner{WinnerClient, WinnerContractor, WinnerSplit} {
		h := newHarness(t, VariantFixed)
		h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
		if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
			t.Fatalf("request return: %v", err)
		}
		if err := h.engine.CreateDispute(h.ctx, h.instance, client, 1, 0); err != nil {
			t.Fatalf("create dispute: %v", err)
		}
		over := new(big.Int).Add(ether(1), big.NewInt(1))
		err := h.engine.ResolveDispute(h.ctx, h.instance, h.admin.Address(), 1, 0, winner, over, big.NewInt(0))
		expectErr(t, err, ErrResolutionExceedsDepositedAmount)
		err = h.engine.ResolveDispute(h.ctx, h.instance, h.admin.Address(), 1, 0, winner, milliEther(500), milliEther(501))
		expectErr(t, err, ErrResolutionExceedsDepositedAmount)
		expectStatus(t, h.unit(1, 0), StatusDisputed)
	}
}

func TestResolveDisputeValidation(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	admin := h.admin.Address()

	err := h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, WinnerClient, ether(1), big.NewInt(0))
	expectErr(t, err, ErrDisputeNotActiveForThisDeposit)

	err = h.engine.CreateDispute(h.ctx, h.instance, client, 1, 0)
	expectErr(t, err, ErrCreateDisputeNotAllowed)
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	err = h.engine.CreateDispute(h.ctx, h.instance, stranger, 1, 0)
	expectErr(t, err, ErrUnauthorizedToApproveDispute)
	if err := h.engine.CreateDispute(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("create dispute: %v", err)
	}

	err = h.engine.ResolveDispute(h.ctx, h.instance, stranger, 1, 0, WinnerClient, ether(1), big.NewInt(0))
	expectErr(t, err, ErrUnauthorizedAccount)
	err = h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, WinnerNone, ether(1), big.NewInt(0))
	expectErr(t, err, ErrInvalidWinnerSpecified)
	err = h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, Winner(9), ether(1), big.NewInt(0))
	expectErr(t, err, ErrInvalidWinnerSpecified)

	// Refills made while the dispute is open count towards the bound.
	if _, err := h.engine.RefillPrepayment(h.ctx, h.instance, client, 1, 0, ether(1)); err != nil {
		t.Fatalf("refill during dispute: %v", err)
	}
	if err := h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, WinnerContractor, big.NewInt(0), ether(2)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusApproved)
	expectAmount(t, "amount to claim", unit.AmountToClaim, ether(2))

	claim, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	if err != nil {
		t.Fatalf("claim after contractor win: %v", err)
	}
	expectAmount(t, "claimable", claim.Claimable, ether(2))
	expectStatus(t, h.unit(1, 0), StatusCompleted)
}

func TestEmptySplitResolutionIsValid(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := h.engine.CreateDispute(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if err := h.engine.ResolveDispute(h.ctx, h.instance, h.admin.Address(), 1, 0, WinnerSplit, big.NewInt(0), big.NewInt(0)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	expectStatus(t, h.unit(1, 0), StatusResolved)
	_, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0)
	expectErr(t, err, ErrNoFundsAvailableForWithdraw)
	_, err = h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrNotApproved)

	// The untouched principal can go through a fresh return cycle.
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return after resolution: %v", err)
	}
	if err := h.engine.ApproveReturn(h.ctx, h.instance, h.admin.Address(), 1, 0); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if _, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectStatus(t, h.unit(1, 0), StatusCanceled)
	expectAmount(t, "client made whole", h.spent(), big.NewInt(0))
}

func TestApprovedReturnRefundsPrincipalAndFee(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.ClientCoversOnly})
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	expectErr(t, h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0), ErrReturnNotAllowed)
	expectErr(t, h.engine.ApproveReturn(h.ctx, h.instance, stranger, 1, 0), ErrUnauthorizedToApproveReturn)
	if err := h.engine.ApproveReturn(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusRefundApproved)
	expectAmount(t, "amount to withdraw", unit.AmountToWithdraw, ether(1))

	receipt, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "refunded", receipt.Refunded, milliEther(1030))
	expectStatus(t, h.unit(1, 0), StatusCanceled)
	expectAmount(t, "client made whole", h.spent(), big.NewInt(0))
	expectAmount(t, "treasury", h.balance(treasury), big.NewInt(0))
	expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
}

func TestNoDoublePayment(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(2), FeeConfig: fees.NoFees})
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrNotApproved)
	expectAmount(t, "contractor after partial claim", h.balance(contractor), ether(1))
	expectStatus(t, h.unit(1, 0), StatusApproved)

	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := h.engine.ApproveReturn(h.ctx, h.instance, h.admin.Address(), 1, 0); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if _, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	_, err = h.engine.Withdraw(h.ctx, h.instance, client, 1, 0)
	expectErr(t, err, ErrNoFundsAvailableForWithdraw)
	_, err = h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrInvalidStatusToClaim)
	expectAmount(t, "client net spend", h.spent(), ether(1))
	expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
}

func TestFailedTransferRevertsWholeCall(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.ClientCoversOnly})
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	h.rec.got = nil
	h.ledger.failTo = treasury
	_, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrTransferFailed)

	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusApproved)
	expectAmount(t, "amount to claim restored", unit.AmountToClaim, ether(1))
	expectAmount(t, "contractor payment rolled back", h.balance(contractor), big.NewInt(0))
	expectAmount(t, "vault untouched", h.balance(h.instance), milliEther(1030))
	if len(h.rec.got) != 0 {
		t.Fatalf("expected no events from a reverted call, got %v", h.rec.types())
	}

	h.ledger.failTo = common.Address{}
	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim after recovery: %v", err)
	}
	expectAmount(t, "contractor", h.balance(contractor), milliEther(950))
}

func TestAllocationsZeroedBeforeTransfer(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(2), FeeConfig: fees.ClientCoversOnly})
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := h.engine.CreateDispute(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := h.engine.ResolveDispute(h.ctx, h.instance, h.admin.Address(), 1, 0, WinnerSplit, ether(1), ether(1)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var observed []*Unit
	h.ledger.onTransfer = func(common.Address) {
		unit, _, err := h.engine.store().unit(h.instance, 1, 0)
		if err != nil {
			t.Fatalf("read unit during transfer: %v", err)
		}
		observed = append(observed, unit)
	}
	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(observed) == 0 {
		t.Fatalf("expected transfers to be observed")
	}
	for i, unit := range observed {
		if unit.AmountToClaim.Sign() != 0 {
			t.Fatalf("transfer %d saw unsettled claim allocation %s", i, unit.AmountToClaim)
		}
	}
	if last := observed[len(observed)-1]; last.AmountToWithdraw.Sign() != 0 {
		t.Fatalf("withdraw transfer saw unsettled refund allocation %s", last.AmountToWithdraw)
	}
}

func TestEventsOnlyFlushAfterCommit(t *testing.T) {
	h := newHarness(t, VariantFixed)
	req := h.depositRequest(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	if _, err := h.engine.Deposit(h.ctx, h.instance, client, req); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	got := h.rec.types()
	if len(got) != 2 || got[0] != events.TypeTransfer || got[1] != EventTypeDeposited {
		t.Fatalf("unexpected events: %v", got)
	}
	attrs := h.rec.last(EventTypeDeposited)
	if attrs["contractId"] != "1" || attrs["total"] != ether(1).String() {
		t.Fatalf("unexpected deposit attributes: %v", attrs)
	}

	h.rec.got = nil
	_, err := h.engine.Deposit(h.ctx, h.instance, client, req)
	expectErr(t, err, ErrContractIDAlreadyExists)
	if len(h.rec.got) != 0 {
		t.Fatalf("expected no events from failed deposit, got %v", h.rec.types())
	}
}

func TestQueries(t *testing.T) {
	h := newHarness(t, VariantMilestone)
	h.deposit(4,
		UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees},
		UnitDeposit{Contractor: contractor, Amount: ether(2), FeeConfig: fees.NoFees},
	)
	h.deposit(9, UnitDeposit{Contractor: contractor, Amount: ether(3), FeeConfig: fees.NoFees})

	ids, err := h.engine.Contracts(h.instance)
	if err != nil {
		t.Fatalf("contracts: %v", err)
	}
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 9 {
		t.Fatalf("unexpected contract ids %v", ids)
	}
	units, err := h.engine.Units(h.instance, 4, 0, 1)
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if len(units) != 2 || units[1].Amount.Cmp(ether(2)) != 0 {
		t.Fatalf("unexpected units %+v", units)
	}
	_, err = h.engine.Units(h.instance, 4, 0, 2)
	expectErr(t, err, ErrOutOfRange)
	_, err = h.engine.Unit(h.instance, 4, 5)
	expectErr(t, err, ErrInvalidMilestoneID)
	_, err = h.engine.Contract(h.instance, 5)
	expectErr(t, err, ErrInvalidMilestoneID)

	instances, err := h.engine.Instances()
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	if len(instances) != 1 || instances[0] != h.instance {
		t.Fatalf("unexpected instances %v", instances)
	}
	vault, err := h.engine.VaultBalance(h.instance, token)
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	expectAmount(t, "vault", vault, ether(6))

	// Snapshots are copies.
	units[0].Amount.SetInt64(0)
	expectAmount(t, "stored amount", h.unit(4, 0).Amount, ether(1))
	if !bytes.Equal(h.contract(4).Token.Bytes(), token.Bytes()) {
		t.Fatalf("unexpected contract token")
	}
}

func TestUnauthorizedErrorsCarryTheCaller(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := h.engine.Claim(h.ctx, h.instance, stranger, 1, 0)
	expectErr(t, err, ErrUnauthorizedAccount)
	var accountErr *nativecommon.AccountError
	if !errors.As(err, &accountErr) || accountErr.Account != stranger {
		t.Fatalf("expected error to name %s, got %v", stranger.Hex(), err)
	}

	h.update(func() error { return h.registry.SetBlacklisted(owner, client, true) })
	_, err = h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrBlacklistedAccount)
	h.update(func() error { return h.registry.SetBlacklisted(owner, client, false) })

	h.update(func() error { return h.registry.SetPaused(owner, "", true) })
	_, err = h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrEscrowPaused)
	h.update(func() error { return h.registry.SetPaused(owner, "", false) })

	if _, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestResolveDisputeNeedsBoundContractorForPayout(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.deposit(1, UnitDeposit{Amount: ether(2), FeeConfig: fees.NoFees})
	admin := h.admin.Address()
	if err := h.engine.RequestReturn(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if err := h.engine.CreateDispute(h.ctx, h.instance, client, 1, 0); err != nil {
		t.Fatalf("create dispute: %v", err)
	}

	err := h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, WinnerContractor, big.NewInt(0), ether(2))
	expectErr(t, err, ErrUnauthorizedReceiver)
	err = h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, WinnerSplit, ether(1), ether(1))
	expectErr(t, err, ErrUnauthorizedReceiver)
	unit := h.unit(1, 0)
	expectStatus(t, unit, StatusDisputed)
	expectAmount(t, "amount to claim", unit.AmountToClaim, big.NewInt(0))

	if err := h.engine.ResolveDispute(h.ctx, h.instance, admin, 1, 0, WinnerClient, ether(2), big.NewInt(0)); err != nil {
		t.Fatalf("resolve for client: %v", err)
	}
	withdraw, err := h.engine.Withdraw(h.ctx, h.instance, client, 1, 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "refunded", withdraw.Refunded, ether(2))
	expectStatus(t, h.unit(1, 0), StatusCanceled)
	expectAmount(t, "vault", h.balance(h.instance), big.NewInt(0))
}

func TestClaimPricesClientFeeOnContractorSchedule(t *testing.T) {
	h := newHarness(t, VariantFixed)
	h.update(func() error { return h.fees.SetSpecialFees(h.admin.Address(), client, 0, 0) })

	receipt := h.deposit(1, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.ClientCoversAll})
	expectAmount(t, "deposit total on client schedule", receipt.Total, ether(1))
	if err := h.engine.Approve(h.ctx, h.instance, client, 1, 0, ether(1), contractor); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The vault only holds this contract's principal, so the treasury share
	// priced on the contractor's default schedule cannot be paid.
	_, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	expectErr(t, err, ErrTransferFailed)
	expectStatus(t, h.unit(1, 0), StatusApproved)
	expectAmount(t, "vault after failed claim", h.balance(h.instance), ether(1))

	h.deposit(2, UnitDeposit{Contractor: contractor, Amount: ether(1), FeeConfig: fees.NoFees})
	claim, err := h.engine.Claim(h.ctx, h.instance, contractor, 1, 0)
	if err != nil {
		t.Fatalf("claim with a funded vault: %v", err)
	}
	expectAmount(t, "claimable", claim.Claimable, ether(1))
	expectAmount(t, "client fee", claim.ClientFee, milliEther(80))
	// Contract 2 still owes 1 ether but the vault covered contract 1's fee.
	expectAmount(t, "vault", h.balance(h.instance), milliEther(920))
	expectAmount(t, "treasury", h.balance(treasury), milliEther(80))
}
