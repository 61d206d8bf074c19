package access

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/core/state"
	nativecommon "workescrow/native/common"
	"workescrow/storage"
)

var (
	owner    = common.HexToAddress("0x0A")
	operator = common.HexToAddress("0x0B")
	stranger = common.HexToAddress("0x0C")
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := NewManager(state.NewManager(db))
	if err := mgr.Bootstrap(owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return mgr
}

func TestOwnerHoldsAllRoles(t *testing.T) {
	mgr := newTestManager(t)
	if !mgr.HasAdminRole(owner) || !mgr.HasGuardianRole(owner) || !mgr.HasStrategistRole(owner) {
		t.Fatalf("owner should hold every role")
	}
	if mgr.HasAdminRole(stranger) {
		t.Fatalf("stranger should not be admin")
	}
	if mgr.HasAdminRole(common.Address{}) {
		t.Fatalf("zero address should never hold a role")
	}
}

func TestGrantAndRevoke(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Grant(stranger, RoleAdmin, operator); !errors.Is(err, nativecommon.ErrUnauthorizedAccount) {
		t.Fatalf("expected unauthorized grant, got %v", err)
	}
	if err := mgr.Grant(owner, "root", operator); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected unknown role, got %v", err)
	}
	if err := mgr.Grant(owner, RoleAdmin, operator); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !mgr.HasAdminRole(operator) {
		t.Fatalf("operator should be admin")
	}
	if mgr.HasGuardianRole(operator) {
		t.Fatalf("roles should be independent")
	}
	members, err := mgr.Members(RoleAdmin)
	if err != nil || len(members) != 1 || members[0] != operator {
		t.Fatalf("unexpected members %v %v", members, err)
	}
	if err := mgr.Revoke(owner, RoleAdmin, operator); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if mgr.HasAdminRole(operator) {
		t.Fatalf("operator should no longer be admin")
	}
}

func TestBootstrapAndTransfer(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.Bootstrap(owner); err != nil {
		t.Fatalf("repeat bootstrap with same owner should be a no-op: %v", err)
	}
	if err := mgr.Bootstrap(operator); err == nil {
		t.Fatalf("expected bootstrap to refuse a different owner")
	}
	if err := mgr.TransferOwnership(operator, stranger); !errors.Is(err, nativecommon.ErrUnauthorizedAccount) {
		t.Fatalf("expected unauthorized transfer, got %v", err)
	}
	if err := mgr.TransferOwnership(owner, operator); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if mgr.Owner() != operator {
		t.Fatalf("expected operator to own the manager")
	}
}
