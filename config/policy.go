package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"workescrow/crypto"
	"workescrow/native/fees"
)

// Policy is the YAML bootstrap applied by escrowd on start: registry entries,
// role grants, special fee schedules and optional dev-only token mints.
type Policy struct {
	Treasury    string          `yaml:"treasury"`
	FeeManager  string          `yaml:"feeManager"`
	Tokens      []string        `yaml:"tokens"`
	Blacklist   []string        `yaml:"blacklist"`
	Admins      []string        `yaml:"admins"`
	Guardians   []string        `yaml:"guardians"`
	Strategists []string        `yaml:"strategists"`
	SpecialFees []SpecialFee    `yaml:"specialFees"`
	Mints       []MintAllowance `yaml:"mints"`
}

type SpecialFee struct {
	Account     string `yaml:"account"`
	CoverageBps uint16 `yaml:"coverageBps"`
	ClaimBps    uint16 `yaml:"claimBps"`
}

// MintAllowance credits Amount base units of Token to Account. Only honoured
// outside production environments.
type MintAllowance struct {
	Token   string `yaml:"token"`
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

// ResolvedPolicy is Policy with every address and amount parsed.
type ResolvedPolicy struct {
	Treasury    common.Address
	FeeManager  common.Address
	Tokens      []common.Address
	Blacklist   []common.Address
	Admins      []common.Address
	Guardians   []common.Address
	Strategists []common.Address
	SpecialFees map[common.Address]fees.Schedule
	Mints       []ResolvedMint
}

type ResolvedMint struct {
	Token   common.Address
	Account common.Address
	Amount  *big.Int
}

// LoadPolicy reads and resolves a YAML policy file. An empty path yields an
// empty policy.
func LoadPolicy(path string) (*ResolvedPolicy, error) {
	if strings.TrimSpace(path) == "" {
		return &ResolvedPolicy{SpecialFees: map[common.Address]fees.Schedule{}}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policy: %w", err)
	}
	defer file.Close()

	var policy Policy
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return policy.Resolve()
}

// Resolve parses every entry, reporting the first malformed one.
func (p Policy) Resolve() (*ResolvedPolicy, error) {
	out := &ResolvedPolicy{SpecialFees: make(map[common.Address]fees.Schedule, len(p.SpecialFees))}
	var err error
	if out.Treasury, err = optionalAddress("treasury", p.Treasury); err != nil {
		return nil, err
	}
	if out.FeeManager, err = optionalAddress("feeManager", p.FeeManager); err != nil {
		return nil, err
	}
	lists := []struct {
		field string
		in    []string
		out   *[]common.Address
	}{
		{"tokens", p.Tokens, &out.Tokens},
		{"blacklist", p.Blacklist, &out.Blacklist},
		{"admins", p.Admins, &out.Admins},
		{"guardians", p.Guardians, &out.Guardians},
		{"strategists", p.Strategists, &out.Strategists},
	}
	for _, list := range lists {
		for i, raw := range list.in {
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("policy %s[%d]: %w", list.field, i, err)
			}
			*list.out = append(*list.out, addr)
		}
	}
	for i, entry := range p.SpecialFees {
		addr, err := crypto.ParseAddress(entry.Account)
		if err != nil {
			return nil, fmt.Errorf("policy specialFees[%d]: %w", i, err)
		}
		schedule := fees.Schedule{CoverageBps: entry.CoverageBps, ClaimBps: entry.ClaimBps}
		if err := schedule.Validate(); err != nil {
			return nil, fmt.Errorf("policy specialFees[%d]: %w", i, err)
		}
		if _, dup := out.SpecialFees[addr]; dup {
			return nil, fmt.Errorf("policy specialFees[%d]: duplicate account %s", i, addr.Hex())
		}
		out.SpecialFees[addr] = schedule
	}
	for i, mint := range p.Mints {
		token, err := crypto.ParseAddress(mint.Token)
		if err != nil {
			return nil, fmt.Errorf("policy mints[%d].token: %w", i, err)
		}
		account, err := crypto.ParseAddress(mint.Account)
		if err != nil {
			return nil, fmt.Errorf("policy mints[%d].account: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(mint.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("policy mints[%d].amount: invalid amount %q", i, mint.Amount)
		}
		out.Mints = append(out.Mints, ResolvedMint{Token: token, Account: account, Amount: amount})
	}
	return out, nil
}

func optionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("policy %s: %w", field, err)
	}
	return addr, nil
}
