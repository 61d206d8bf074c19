package escrow

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/events"
	"workescrow/core/state"
	"workescrow/crypto"
	"workescrow/native/access"
	"workescrow/native/bank"
	"workescrow/native/fees"
	"workescrow/native/registry"
	"workescrow/storage"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000))
}

type recorder struct{ got []events.Event }

func (r *recorder) Emit(evt events.Event) { r.got = append(r.got, evt) }

func (r *recorder) types() []string {
	out := make([]string, 0, len(r.got))
	for _, evt := range r.got {
		out = append(out, evt.EventType())
	}
	return out
}

func (r *recorder) last(eventType string) map[string]string {
	for i := len(r.got) - 1; i >= 0; i-- {
		if r.got[i].EventType() != eventType {
			continue
		}
		if payload, ok := r.got[i].(events.Payload); ok {
			return payload.Event().Attributes
		}
	}
	return nil
}

// flakyLedger fails transfers to a chosen recipient and can observe the
// engine's view of a unit at transfer time.
type flakyLedger struct {
	*bank.Ledger
	failTo     common.Address
	onTransfer func(to common.Address)
}

func (l *flakyLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if l.onTransfer != nil {
		l.onTransfer(to)
	}
	if l.failTo != (common.Address{}) && to == l.failTo {
		return errors.New("recipient rejected transfer")
	}
	return l.Ledger.Transfer(token, from, to, amount)
}

var (
	deployer   = common.HexToAddress("0x1000")
	client     = common.HexToAddress("0x2000")
	contractor = common.HexToAddress("0x3000")
	stranger   = common.HexToAddress("0x4000")
	treasury   = common.HexToAddress("0x5000")
	feeManager = common.HexToAddress("0x6000")
	owner      = common.HexToAddress("0x7000")
	token      = common.HexToAddress("0x8000")
)

const testNow = int64(1_700_000_000)

type harness struct {
	t        *testing.T
	ctx      context.Context
	state    *state.Manager
	engine   *Engine
	roles    *access.Manager
	registry *registry.Registry
	ledger   *flakyLedger
	fees     *fees.Manager
	wallets  *crypto.WalletBook
	admin    *crypto.PrivateKey
	rec      *recorder
	instance common.Address
}

func newHarness(t *testing.T, variant Variant) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	st := state.NewManager(db)

	engine := NewEngine()
	engine.SetState(st)
	engine.SetNowFunc(func() int64 { return testNow })
	rec := &recorder{}
	engine.SetEmitter(rec)

	roles := access.NewManager(st)
	roles.SetEmitter(engine.Events())
	reg := registry.New(st, roles)
	reg.SetEmitter(engine.Events())
	ledger := &flakyLedger{Ledger: bank.NewLedger(st)}
	ledger.SetEmitter(engine.Events())
	feeMgr := fees.NewManager(st, roles, fees.DefaultSchedule)
	feeMgr.SetEmitter(engine.Events())
	wallets := crypto.NewWalletBook()

	engine.SetRegistry(reg)
	engine.SetAdminManager(roles)
	engine.SetLedger(ledger)
	engine.SetFeeEngine(feeMgr)
	engine.SetVerifier(crypto.NewVerifier(wallets))

	admin, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		state:    st,
		engine:   engine,
		roles:    roles,
		registry: reg,
		ledger:   ledger,
		fees:     feeMgr,
		wallets:  wallets,
		admin:    admin,
		rec:      rec,
	}
	h.update(func() error {
		if err := roles.Bootstrap(owner); err != nil {
			return err
		}
		if err := roles.Grant(owner, access.RoleAdmin, admin.Address()); err != nil {
			return err
		}
		if err := reg.SetPaymentToken(owner, token, true); err != nil {
			return err
		}
		if err := reg.SetTreasury(owner, treasury); err != nil {
			return err
		}
		if err := reg.SetFeeManager(owner, feeManager); err != nil {
			return err
		}
		return ledger.Mint(token, client, ether(1_000))
	})

	inst, err := engine.Deploy(h.ctx, deployer, variant, common.HexToHash("0x01"))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := engine.Initialize(h.ctx, inst.Address, deployer, client); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.instance = inst.Address
	h.update(func() error {
		return ledger.Approve(token, client, inst.Address, ether(1_000))
	})
	rec.got = nil
	return h
}

func (h *harness) update(fn func() error) {
	h.t.Helper()
	if err := h.engine.Update(h.ctx, "test_setup", fn); err != nil {
		h.t.Fatalf("setup: %v", err)
	}
}

func (h *harness) balance(addr common.Address) *big.Int {
	h.t.Helper()
	bal, err := h.ledger.BalanceOf(token, addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) spent() *big.Int {
	return new(big.Int).Sub(ether(1_000), h.balance(client))
}

func (h *harness) signDeposit(req *DepositRequest, startIndex uint64) {
	h.t.Helper()
	req.Authorization.Expiration = uint64(testNow + 3600)
	digest := DepositDigest(h.instance, client, *req, startIndex)
	auth, err := SignDigest(h.admin, digest, req.Authorization.Expiration)
	if err != nil {
		h.t.Fatalf("sign deposit: %v", err)
	}
	req.Authorization = auth
}

func (h *harness) depositRequest(contractID uint64, units ...UnitDeposit) DepositRequest {
	req := DepositRequest{ContractID: contractID, Token: token, Units: units}
	h.signDeposit(&req, 0)
	return req
}

func (h *harness) deposit(contractID uint64, units ...UnitDeposit) *DepositReceipt {
	h.t.Helper()
	receipt, err := h.engine.Deposit(h.ctx, h.instance, client, h.depositRequest(contractID, units...))
	if err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
	return receipt
}

func (h *harness) submitRequest(contractID, unitID uint64, data, salt []byte) SubmitRequest {
	h.t.Helper()
	expiration := uint64(testNow + 3600)
	dataHash := ContractorCommitment(contractor, data, salt)
	digest := SubmitDigest(h.instance, contractor, contractID, unitID, dataHash, expiration)
	auth, err := SignDigest(h.admin, digest, expiration)
	if err != nil {
		h.t.Fatalf("sign submit: %v", err)
	}
	return SubmitRequest{Data: data, Salt: salt, Authorization: auth}
}

func (h *harness) unit(contractID, unitID uint64) *Unit {
	h.t.Helper()
	unit, err := h.engine.Unit(h.instance, contractID, unitID)
	if err != nil {
		h.t.Fatalf("unit %d/%d: %v", contractID, unitID, err)
	}
	return unit
}

func (h *harness) contract(contractID uint64) *Contract {
	h.t.Helper()
	contract, err := h.engine.Contract(h.instance, contractID)
	if err != nil {
		h.t.Fatalf("contract %d: %v", contractID, err)
	}
	return contract
}

// assertConserved checks that the vault still backs every unit's principal
// and the contract prepayment.
func (h *harness) assertConserved(contractID uint64) {
	h.t.Helper()
	contract := h.contract(contractID)
	owed := new(big.Int).Set(contract.Prepayment)
	for id := uint64(0); id < contract.UnitCount; id++ {
		owed.Add(owed, h.unit(contractID, id).Amount)
	}
	if vault := h.balance(h.instance); vault.Cmp(owed) < 0 {
		h.t.Fatalf("vault %s does not back outstanding principal %s", vault, owed)
	}
}

func expectAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s: got %v, want %s", label, got, want)
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func expectStatus(t *testing.T, unit *Unit, want Status) {
	t.Helper()
	if unit.Status != want {
		t.Fatalf("expected status %s, got %s", want, unit.Status)
	}
}
