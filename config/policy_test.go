package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"workescrow/native/fees"
)

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	contents := `treasury: "0x0000000000000000000000000000000000005000"
feeManager: "0x0000000000000000000000000000000000006000"
tokens:
  - "0x0000000000000000000000000000000000008000"
admins:
  - "0x0000000000000000000000000000000000001000"
specialFees:
  - account: "0x0000000000000000000000000000000000003000"
    coverageBps: 0
    claimBps: 200
mints:
  - token: "0x0000000000000000000000000000000000008000"
    account: "0x0000000000000000000000000000000000002000"
    amount: "1000000000000000000"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if policy.Treasury != common.HexToAddress("0x5000") {
		t.Fatalf("unexpected treasury %s", policy.Treasury.Hex())
	}
	if len(policy.Tokens) != 1 || len(policy.Admins) != 1 {
		t.Fatalf("unexpected lists %+v", policy)
	}
	special := policy.SpecialFees[common.HexToAddress("0x3000")]
	if special != (fees.Schedule{ClaimBps: 200}) {
		t.Fatalf("unexpected special fees %+v", special)
	}
	if len(policy.Mints) != 1 || policy.Mints[0].Amount.String() != "1000000000000000000" {
		t.Fatalf("unexpected mints %+v", policy.Mints)
	}
}

func TestLoadPolicyEmptyPath(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if policy.SpecialFees == nil || len(policy.Tokens) != 0 {
		t.Fatalf("unexpected empty policy %+v", policy)
	}
}

func TestPolicyResolveErrors(t *testing.T) {
	valid := "0x0000000000000000000000000000000000003000"
	cases := []struct {
		name   string
		policy Policy
		target error
	}{
		{"bad token", Policy{Tokens: []string{"nope"}}, nil},
		{"bad treasury", Policy{Treasury: "0x12"}, nil},
		{"fee too high", Policy{SpecialFees: []SpecialFee{{Account: valid, ClaimBps: fees.MaxBps + 1}}}, fees.ErrFeeTooHigh},
		{"duplicate special", Policy{SpecialFees: []SpecialFee{{Account: valid}, {Account: valid}}}, nil},
		{"zero mint", Policy{Mints: []MintAllowance{{Token: valid, Account: valid, Amount: "0"}}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.policy.Resolve()
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
		})
	}
}

func TestLoadPolicyRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("treasurer: \"0x0000000000000000000000000000000000005000\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
