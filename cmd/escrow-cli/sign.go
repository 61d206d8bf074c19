package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"workescrow/native/escrow"
	"workescrow/native/fees"
)

// unitList collects repeated --unit flags.
type unitList []escrow.UnitDeposit

func (u *unitList) String() string { return fmt.Sprintf("%d units", len(*u)) }

// Set parses CONTRACTOR,AMOUNT,FEECONFIG[,DATAHASH].
func (u *unitList) Set(value string) error {
	parts := strings.Split(value, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return fmt.Errorf("unit %q: want CONTRACTOR,AMOUNT,FEECONFIG[,DATAHASH]", value)
	}
	contractor, err := parseAddress("contractor", parts[0], true)
	if err != nil {
		return err
	}
	amount, ok := math.ParseBig256(strings.TrimSpace(parts[1]))
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("unit %q: invalid amount", value)
	}
	cfg, err := fees.ParseConfig(parts[2])
	if err != nil {
		return err
	}
	unit := escrow.UnitDeposit{Contractor: contractor, Amount: amount, FeeConfig: cfg}
	if len(parts) == 4 {
		raw := strings.TrimSpace(parts[3])
		decoded, err := hexutil.Decode(raw)
		if err != nil || len(decoded) != common.HashLength {
			return fmt.Errorf("unit %q: data hash must be 32 bytes of 0x hex", value)
		}
		unit.ContractorDataHash = common.BytesToHash(decoded)
	}
	*u = append(*u, unit)
	return nil
}

func parseAddress(name, raw string, allowZero bool) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && allowZero {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("--%s must be a 0x address", name)
	}
	return common.HexToAddress(raw), nil
}

// parseExpiry accepts +duration relative to now or absolute unix seconds.
func parseExpiry(value string, now time.Time) (uint64, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "+") {
		d, err := time.ParseDuration(value[1:])
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("--expires: invalid duration %q", value)
		}
		return uint64(now.Add(d).Unix()), nil
	}
	secs, err := strconv.ParseUint(value, 10, 64)
	if err != nil || secs == 0 {
		return 0, fmt.Errorf("--expires must be +duration or unix seconds")
	}
	return secs, nil
}

// bytesArg decodes 0x-prefixed hex and takes anything else literally.
func bytesArg(value string) ([]byte, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return hexutil.Decode(value)
	}
	return []byte(value), nil
}

func writeJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

type authorizationOut struct {
	Signer     string `json:"signer"`
	Expiration uint64 `json:"expiration"`
	Signature  string `json:"signature"`
}

func newAuthorizationOut(auth escrow.Authorization) authorizationOut {
	return authorizationOut{
		Signer:     auth.Signer.Hex(),
		Expiration: auth.Expiration,
		Signature:  hexutil.Encode(auth.Signature),
	}
}

func runCommitment(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("commitment", stderr)
	var contractorRaw, data, salt string
	fs.StringVar(&contractorRaw, "contractor", "", "contractor address")
	fs.StringVar(&data, "data", "", "work data (0x hex or text)")
	fs.StringVar(&salt, "salt", "", "salt (0x hex or text)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	contractor, err := parseAddress("contractor", contractorRaw, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	dataBytes, err := bytesArg(data)
	if err != nil {
		return printError(stderr, "--data: "+err.Error())
	}
	saltBytes, err := bytesArg(salt)
	if err != nil {
		return printError(stderr, "--salt: "+err.Error())
	}
	fmt.Fprintln(stdout, escrow.ContractorCommitment(contractor, dataBytes, saltBytes).Hex())
	return 0
}

func runSignDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-deposit", stderr)
	var (
		keyPath, instanceRaw, clientRaw, tokenRaw, expires string
		contractID, startIndex                             uint64
		units                                              unitList
	)
	fs.StringVar(&keyPath, "key", "", "admin keystore")
	fs.StringVar(&instanceRaw, "instance", "", "escrow instance address")
	fs.StringVar(&clientRaw, "client", "", "client address bound to the instance")
	fs.StringVar(&tokenRaw, "token", "", "payment token address")
	fs.StringVar(&expires, "expires", "+1h", "permit expiry as +duration or unix seconds")
	fs.Uint64Var(&contractID, "contract-id", 0, "contract id")
	fs.Uint64Var(&startIndex, "start-index", 0, "unit count before the call (milestone top-ups)")
	fs.Var(&units, "unit", "CONTRACTOR,AMOUNT,FEECONFIG[,DATAHASH]; repeat per unit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	instance, err := parseAddress("instance", instanceRaw, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	client, err := parseAddress("client", clientRaw, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := parseAddress("token", tokenRaw, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(units) == 0 {
		return printError(stderr, "at least one --unit is required")
	}
	expiration, err := parseExpiry(expires, cliNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}

	req := escrow.DepositRequest{ContractID: contractID, Token: token, Units: units}
	req.Authorization.Expiration = expiration
	auth, err := escrow.SignDigest(key, escrow.DepositDigest(instance, client, req, startIndex), expiration)
	if err != nil {
		return printError(stderr, err.Error())
	}

	type unitOut struct {
		Contractor         string `json:"contractor"`
		Amount             string `json:"amount"`
		FeeConfig          string `json:"feeConfig"`
		ContractorDataHash string `json:"contractorDataHash"`
	}
	body := struct {
		ContractID    uint64           `json:"contractId"`
		Token         string           `json:"token"`
		Units         []unitOut        `json:"units"`
		Authorization authorizationOut `json:"authorization"`
	}{ContractID: contractID, Token: token.Hex(), Authorization: newAuthorizationOut(auth)}
	for _, unit := range units {
		body.Units = append(body.Units, unitOut{
			Contractor:         unit.Contractor.Hex(),
			Amount:             unit.Amount.String(),
			FeeConfig:          unit.FeeConfig.String(),
			ContractorDataHash: unit.ContractorDataHash.Hex(),
		})
	}
	return writeJSON(stdout, body)
}

func runSignSubmit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign-submit", stderr)
	var (
		keyPath, instanceRaw, contractorRaw, dataHashRaw, expires string
		contractID, unitID                                        uint64
	)
	fs.StringVar(&keyPath, "key", "", "admin keystore")
	fs.StringVar(&instanceRaw, "instance", "", "escrow instance address")
	fs.StringVar(&contractorRaw, "contractor", "", "contractor that will submit")
	fs.StringVar(&dataHashRaw, "data-hash", "", "contractor commitment stored on the unit")
	fs.StringVar(&expires, "expires", "+1h", "permit expiry as +duration or unix seconds")
	fs.Uint64Var(&contractID, "contract-id", 0, "contract id")
	fs.Uint64Var(&unitID, "unit-id", 0, "milestone index")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	instance, err := parseAddress("instance", instanceRaw, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	contractor, err := parseAddress("contractor", contractorRaw, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	decoded, err := hexutil.Decode(strings.TrimSpace(dataHashRaw))
	if err != nil || len(decoded) != common.HashLength {
		return printError(stderr, "--data-hash must be 32 bytes of 0x hex")
	}
	expiration, err := parseExpiry(expires, cliNow())
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	digest := escrow.SubmitDigest(instance, contractor, contractID, unitID, common.BytesToHash(decoded), expiration)
	auth, err := escrow.SignDigest(key, digest, expiration)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return writeJSON(stdout, newAuthorizationOut(auth))
}
