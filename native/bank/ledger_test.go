package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/events"
	"workescrow/core/state"
	"workescrow/storage"
)

var (
	token   = common.HexToAddress("0x70")
	alice   = common.HexToAddress("0xA1")
	bob     = common.HexToAddress("0xB0")
	spender = common.HexToAddress("0x5E")
)

type recorder struct{ got []events.Event }

func (r *recorder) Emit(evt events.Event) { r.got = append(r.got, evt) }

func newTestLedger(t *testing.T) (*Ledger, *state.Manager) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	return NewLedger(mgr), mgr
}

func mustBalance(t *testing.T, l *Ledger, owner common.Address) *big.Int {
	t.Helper()
	bal, err := l.BalanceOf(token, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestMintAndTransfer(t *testing.T) {
	ledger, _ := newTestLedger(t)
	rec := &recorder{}
	ledger.SetEmitter(rec)
	if err := ledger.Mint(token, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(token, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, ledger, alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected alice balance %s", got)
	}
	if got := mustBalance(t, ledger, bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected bob balance %s", got)
	}
	if err := ledger.Transfer(token, alice, bob, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if len(rec.got) != 2 || rec.got[1].EventType() != events.TypeTransfer {
		t.Fatalf("unexpected events %+v", rec.got)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Mint(token, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(token, spender, alice, bob, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := ledger.Approve(token, alice, spender, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(token, spender, alice, bob, big.NewInt(25)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	allowance, err := ledger.Allowance(token, alice, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected remaining allowance 5, got %s", allowance)
	}
}

func TestMintOverflowGuard(t *testing.T) {
	ledger, _ := newTestLedger(t)
	maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := ledger.Mint(token, alice, maxWord); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := ledger.Mint(token, alice, big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := ledger.Mint(token, alice, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestLedgerWritesRevertWithState(t *testing.T) {
	ledger, mgr := newTestLedger(t)
	if err := ledger.Mint(token, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	snap := mgr.Snapshot()
	if err := ledger.Transfer(token, alice, bob, big.NewInt(70)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mgr.RevertToSnapshot(snap)
	if got := mustBalance(t, ledger, alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected reverted balance 100, got %s", got)
	}
	if got := mustBalance(t, ledger, bob); got.Sign() != 0 {
		t.Fatalf("expected bob to hold nothing after revert, got %s", got)
	}
}
