package fees

import (
	"fmt"
	"strings"
)

// Config selects which party bears the coverage and claim fees of a unit.
type Config uint8

const (
	// ClientCoversAll prepays both coverage and claim fees at funding time.
	ClientCoversAll Config = iota
	// ClientCoversOnly prepays coverage; the claim fee is deducted at claim.
	ClientCoversOnly
	// ContractorCoversClaim only carries a claim fee and cannot fund a unit.
	ContractorCoversClaim
	// NoFees disables fee collection entirely.
	NoFees
)

var configNames = map[Config]string{
	ClientCoversAll:       "CLIENT_COVERS_ALL",
	ClientCoversOnly:      "CLIENT_COVERS_ONLY",
	ContractorCoversClaim: "CONTRACTOR_COVERS_CLAIM",
	NoFees:                "NO_FEES",
}

// Valid reports whether the value names a known policy.
func (c Config) Valid() bool {
	_, ok := configNames[c]
	return ok
}

func (c Config) String() string {
	if name, ok := configNames[c]; ok {
		return name
	}
	return fmt.Sprintf("FeeConfig(%d)", uint8(c))
}

// ParseConfig converts the canonical policy name into a Config.
func ParseConfig(value string) (Config, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for cfg, name := range configNames {
		if name == normalized {
			return cfg, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFeeConfiguration, value)
}

// MarshalText implements encoding.TextMarshaler.
func (c Config) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFeeConfiguration, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Config) UnmarshalText(text []byte) error {
	parsed, err := ParseConfig(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
