package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"workescrow/core/events"
	"workescrow/core/types"
	nativecommon "workescrow/native/common"
	"workescrow/native/fees"
	"workescrow/observability/metrics"
)

// Registry exposes the global escrow configuration.
type Registry interface {
	IsPaymentTokenSupported(token common.Address) bool
	IsBlacklisted(addr common.Address) bool
	Treasury() common.Address
	FeeManager() common.Address
	IsPaused(module string) bool
}

// AdminManager answers role membership questions.
type AdminManager interface {
	HasAdminRole(addr common.Address) bool
	HasGuardianRole(addr common.Address) bool
	HasStrategistRole(addr common.Address) bool
}

// TokenLedger moves fungible token balances. The escrow vault of an instance
// is the instance address itself.
type TokenLedger interface {
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Transfer(token, from, to common.Address, amount *big.Int) error
	BalanceOf(token, owner common.Address) (*big.Int, error)
}

// FeeEngine computes deposit totals and claim deductions.
type FeeEngine interface {
	ComputeDepositAmountAndFee(amount *big.Int, cfg fees.Config, payer common.Address) (*big.Int, *big.Int, error)
	ComputeClaimableAmountAndFee(amount *big.Int, cfg fees.Config, payee common.Address) (*big.Int, *big.Int, *big.Int, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine runs the escrow state machine for every deployed instance. Calls are
// serialised and each one is atomic: a failing call leaves no trace in state,
// in token balances or in the event stream.
type Engine struct {
	mu sync.Mutex

	state    engineState
	registry Registry
	admins   AdminManager
	ledger   TokenLedger
	fees     FeeEngine
	verifier SignatureVerifier

	emitter events.Emitter
	pending events.Buffer
	logger  *slog.Logger
	tracer  trace.Tracer
	nowFn   func() int64

	// observations run once the current call has committed.
	observations []func(*metrics.EscrowMetrics)
}

// NewEngine creates an escrow engine with a no-op emitter. Collaborators are
// configured through the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("workescrow/native/escrow"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the registry consulted for tokens, treasury,
// blacklist and pause flags.
func (e *Engine) SetRegistry(registry Registry) { e.registry = registry }

// SetAdminManager configures the role oracle.
func (e *Engine) SetAdminManager(admins AdminManager) { e.admins = admins }

// SetLedger configures the token ledger used for value transfers.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetFeeEngine configures the fee engine.
func (e *Engine) SetFeeEngine(engine FeeEngine) { e.fees = engine }

// SetVerifier configures the authorization signature verifier.
func (e *Engine) SetVerifier(verifier SignatureVerifier) { e.verifier = verifier }

// SetLogger overrides the logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Events returns the emitter collaborators should publish through so their
// events share the commit or rollback of the enclosing engine call.
func (e *Engine) Events() events.Emitter { return &e.pending }

// Update runs fn as one atomic engine call. It is the entry point for
// administrative writes to collaborators (registry, roles, fee schedules,
// token ledger) that must share the engine's journal. fn must not call back
// into the engine's exported methods.
func (e *Engine) Update(ctx context.Context, operation string, fn func() error) error {
	return e.run(ctx, operation, fn)
}

// View runs fn under the engine lock without opening a journal scope.
func (e *Engine) View(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	return fn()
}

func (e *Engine) run(ctx context.Context, operation string, fn func() error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := e.tracer.Start(ctx, "escrow."+operation)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	mark := e.pending.Len()
	snapshot := e.state.Snapshot()
	e.observations = e.observations[:0]

	err = fn()
	if err == nil {
		if commitErr := e.state.Commit(); commitErr != nil {
			err = fmt.Errorf("escrow: commit state: %w", commitErr)
		}
	}
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		e.pending.Truncate(mark)
		e.observations = e.observations[:0]
		metrics.Escrow().ObserveReverted(operation)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("escrow call reverted",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
		return err
	}

	observed := metrics.Escrow()
	for _, observe := range e.observations {
		observe(observed)
	}
	e.observations = e.observations[:0]
	span.SetAttributes(attribute.Int("escrow.events", e.pending.Len()-mark))
	e.pending.Flush(e.emitter)
	e.logger.Debug("escrow call committed", slog.String("operation", operation))
	return nil
}

func (e *Engine) observe(fn func(*metrics.EscrowMetrics)) {
	e.observations = append(e.observations, fn)
}

func (e *Engine) emit(event *types.Event) {
	if event == nil {
		return
	}
	e.pending.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) store() store { return store{state: e.state} }

func (e *Engine) checkCollaborators() error {
	switch {
	case e.registry == nil:
		return errNilRegistry
	case e.admins == nil:
		return errNilAdmins
	case e.ledger == nil:
		return errNilLedger
	case e.fees == nil:
		return errNilFees
	}
	return nil
}

func (e *Engine) guardPaused() error {
	if err := nativecommon.Guard(e.registry, nativecommon.ModuleEscrow); err != nil {
		if errors.Is(err, nativecommon.ErrModulePaused) {
			return ErrEscrowPaused
		}
		return err
	}
	return nil
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if !e.admins.HasAdminRole(caller) {
		return nativecommon.Unauthorized(caller)
	}
	return nil
}

func (e *Engine) checkNotBlacklisted(accounts ...common.Address) error {
	for _, account := range accounts {
		if account != (common.Address{}) && e.registry.IsBlacklisted(account) {
			return nativecommon.Blacklisted(account)
		}
	}
	return nil
}

func (e *Engine) treasury() (common.Address, error) {
	treasury := e.registry.Treasury()
	if treasury == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: treasury not configured", ErrZeroAddressProvided)
	}
	return treasury, nil
}

func (e *Engine) pull(token, vault, from common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := e.ledger.TransferFrom(token, vault, from, vault, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	e.observe(func(m *metrics.EscrowMetrics) { m.ObserveValue("in", amount) })
	return nil
}

func (e *Engine) pay(token, vault, to common.Address, amount *big.Int, direction string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.ledger.Transfer(token, vault, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	paid := new(big.Int).Set(amount)
	e.observe(func(m *metrics.EscrowMetrics) { m.ObserveValue(direction, paid) })
	return nil
}
