package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/cmd/internal/passphrase"
	"workescrow/config"
	"workescrow/core/events"
	"workescrow/core/state"
	"workescrow/crypto"
	"workescrow/gateway/routes"
	"workescrow/native/access"
	"workescrow/native/bank"
	"workescrow/native/escrow"
	"workescrow/native/fees"
	"workescrow/native/registry"
	"workescrow/observability"
	"workescrow/storage"
)

const ownerPassphraseEnv = "ESCROWD_OWNER_PASSPHRASE"

// node owns the escrow engine and the collaborators it is wired to.
type node struct {
	engine  *escrow.Engine
	mods    routes.Modules
	events  *events.Broadcaster
	wallets *crypto.WalletBook
	logger  *slog.Logger
}

// newNode wires the engine over db. Committed events fan out to the live
// stream, the event counters and any extra sinks such as the audit store.
func newNode(db storage.Database, defaults fees.Schedule, logger *slog.Logger, sinks ...events.Emitter) *node {
	st := state.NewManager(db)
	broadcaster := events.NewBroadcaster()
	emitters := events.Multi{broadcaster, observability.Events()}
	for _, sink := range sinks {
		if sink != nil {
			emitters = append(emitters, sink)
		}
	}

	engine := escrow.NewEngine()
	engine.SetState(st)
	engine.SetLogger(logger)
	engine.SetEmitter(emitters)

	roles := access.NewManager(st)
	roles.SetEmitter(engine.Events())
	reg := registry.New(st, roles)
	reg.SetEmitter(engine.Events())
	ledger := bank.NewLedger(st)
	ledger.SetEmitter(engine.Events())
	feeMgr := fees.NewManager(st, roles, defaults)
	feeMgr.SetEmitter(engine.Events())
	wallets := crypto.NewWalletBook()

	engine.SetRegistry(reg)
	engine.SetAdminManager(roles)
	engine.SetLedger(ledger)
	engine.SetFeeEngine(feeMgr)
	engine.SetVerifier(crypto.NewVerifier(wallets))

	return &node{
		engine:  engine,
		mods:    routes.Modules{Engine: engine, Registry: reg, Access: roles, Fees: feeMgr, Ledger: ledger},
		events:  broadcaster,
		wallets: wallets,
		logger:  logger,
	}
}

// bootstrap records the owner on first start and applies the operator policy.
// Re-applying an unchanged policy is idempotent. Mints are skipped in prod.
func (n *node) bootstrap(ctx context.Context, owner common.Address, env string, policy *config.ResolvedPolicy) error {
	return n.engine.Update(ctx, "bootstrap", func() error {
		roles := n.mods.Access
		current := roles.Owner()
		if current == (common.Address{}) {
			if err := roles.Bootstrap(owner); err != nil {
				return fmt.Errorf("bootstrap owner: %w", err)
			}
		} else if current != owner {
			return fmt.Errorf("state owned by %s, keystore holds %s", current.Hex(), owner.Hex())
		}
		if policy == nil {
			return nil
		}
		return n.applyPolicy(owner, env, policy)
	})
}

func (n *node) applyPolicy(owner common.Address, env string, policy *config.ResolvedPolicy) error {
	reg, roles, feeMgr := n.mods.Registry, n.mods.Access, n.mods.Fees
	if policy.Treasury != (common.Address{}) && reg.Treasury() != policy.Treasury {
		if err := reg.SetTreasury(owner, policy.Treasury); err != nil {
			return fmt.Errorf("policy treasury: %w", err)
		}
	}
	if policy.FeeManager != (common.Address{}) && reg.FeeManager() != policy.FeeManager {
		if err := reg.SetFeeManager(owner, policy.FeeManager); err != nil {
			return fmt.Errorf("policy fee manager: %w", err)
		}
	}
	for _, token := range policy.Tokens {
		if reg.IsPaymentTokenSupported(token) {
			continue
		}
		if err := reg.SetPaymentToken(owner, token, true); err != nil {
			return fmt.Errorf("policy token %s: %w", token.Hex(), err)
		}
	}
	for _, account := range policy.Blacklist {
		if reg.IsBlacklisted(account) {
			continue
		}
		if err := reg.SetBlacklisted(owner, account, true); err != nil {
			return fmt.Errorf("policy blacklist %s: %w", account.Hex(), err)
		}
	}
	grants := []struct {
		role     string
		accounts []common.Address
		has      func(common.Address) bool
	}{
		{access.RoleAdmin, policy.Admins, roles.HasAdminRole},
		{access.RoleGuardian, policy.Guardians, roles.HasGuardianRole},
		{access.RoleStrategist, policy.Strategists, roles.HasStrategistRole},
	}
	for _, grant := range grants {
		for _, account := range grant.accounts {
			if grant.has(account) {
				continue
			}
			if err := roles.Grant(owner, grant.role, account); err != nil {
				return fmt.Errorf("policy %s %s: %w", grant.role, account.Hex(), err)
			}
		}
	}
	for account, schedule := range policy.SpecialFees {
		if err := feeMgr.SetSpecialFees(owner, account, schedule.CoverageBps, schedule.ClaimBps); err != nil {
			return fmt.Errorf("policy special fees %s: %w", account.Hex(), err)
		}
	}
	if len(policy.Mints) == 0 {
		return nil
	}
	if strings.EqualFold(env, "prod") {
		n.logger.Warn("policy mints ignored in prod", "count", len(policy.Mints))
		return nil
	}
	for _, mint := range policy.Mints {
		if err := n.mods.Ledger.Mint(mint.Token, mint.Account, mint.Amount); err != nil {
			return fmt.Errorf("policy mint %s: %w", mint.Account.Hex(), err)
		}
	}
	return nil
}

// loadOwnerKey opens the owner keystore, creating a fresh key on first start.
func loadOwnerKey(path string, logger *slog.Logger) (*crypto.PrivateKey, error) {
	source := passphrase.NewSource(ownerPassphraseEnv, "owner keystore")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		pass, err := source.GetNew()
		if err != nil {
			return nil, err
		}
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate owner key: %w", err)
		}
		if err := crypto.SaveToKeystore(path, key, pass); err != nil {
			return nil, fmt.Errorf("write owner keystore: %w", err)
		}
		logger.Info("created owner keystore", "path", path, "owner", key.Address().Hex())
		return key, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat owner keystore: %w", err)
	}
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open owner keystore: %w", err)
	}
	return key, nil
}
