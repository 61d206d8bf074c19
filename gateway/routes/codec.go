package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-chi/chi/v5"

	"workescrow/native/escrow"
	"workescrow/native/fees"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalid(errors.New("request body required"))
		}
		return invalid(fmt.Errorf("decode request: %w", err))
	}
	return nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalid(fmt.Errorf("%s: invalid address %q", name, raw))
	}
	return common.HexToAddress(raw), nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid(fmt.Errorf("%s: invalid index %q", name, raw))
	}
	return value, nil
}

func uintQuery(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid(fmt.Errorf("%s: invalid value %q", name, raw))
	}
	return value, nil
}

func amountOf(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return nil
	}
	return (*big.Int)(v)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

type authorizationJSON struct {
	Signer     common.Address `json:"signer"`
	Expiration uint64         `json:"expiration"`
	Signature  hexutil.Bytes  `json:"signature"`
}

func (a authorizationJSON) toAuthorization() escrow.Authorization {
	return escrow.Authorization{Signer: a.Signer, Expiration: a.Expiration, Signature: a.Signature}
}

type unitDepositJSON struct {
	Contractor         common.Address        `json:"contractor"`
	Amount             *math.HexOrDecimal256 `json:"amount"`
	FeeConfig          fees.Config           `json:"feeConfig"`
	ContractorDataHash common.Hash           `json:"contractorDataHash"`
}

type depositRequestJSON struct {
	ContractID    uint64            `json:"contractId"`
	Token         common.Address    `json:"token"`
	Units         []unitDepositJSON `json:"units"`
	Authorization authorizationJSON `json:"authorization"`
}

func (d depositRequestJSON) toRequest() escrow.DepositRequest {
	req := escrow.DepositRequest{
		ContractID:    d.ContractID,
		Token:         d.Token,
		Units:         make([]escrow.UnitDeposit, 0, len(d.Units)),
		Authorization: d.Authorization.toAuthorization(),
	}
	for _, unit := range d.Units {
		req.Units = append(req.Units, escrow.UnitDeposit{
			Contractor:         unit.Contractor,
			Amount:             amountOf(unit.Amount),
			FeeConfig:          unit.FeeConfig,
			ContractorDataHash: unit.ContractorDataHash,
		})
	}
	return req
}

type instanceJSON struct {
	Address     string `json:"address"`
	Variant     string `json:"variant"`
	Deployer    string `json:"deployer"`
	Salt        string `json:"salt"`
	Client      string `json:"client,omitempty"`
	Initialized bool   `json:"initialized"`
}

func newInstanceJSON(inst *escrow.Instance) instanceJSON {
	out := instanceJSON{
		Address:     addressString(inst.Address),
		Variant:     inst.Variant.String(),
		Deployer:    addressString(inst.Deployer),
		Salt:        inst.Salt.Hex(),
		Initialized: inst.Initialized,
	}
	if inst.Client != (common.Address{}) {
		out.Client = addressString(inst.Client)
	}
	return out
}

type contractJSON struct {
	ID          uint64        `json:"id"`
	Variant     string        `json:"variant"`
	Token       string        `json:"token"`
	Prepayment  string        `json:"prepayment"`
	Status      escrow.Status `json:"status"`
	UnitCount   uint64        `json:"unitCount"`
	CurrentUnit uint64        `json:"currentUnit"`
	Contractor  string        `json:"contractor,omitempty"`
	FeeConfig   *fees.Config  `json:"feeConfig,omitempty"`
}

func newContractJSON(c *escrow.Contract) contractJSON {
	out := contractJSON{
		ID:          c.ID,
		Variant:     c.Variant.String(),
		Token:       addressString(c.Token),
		Prepayment:  amountString(c.Prepayment),
		Status:      c.Status,
		UnitCount:   c.UnitCount,
		CurrentUnit: c.CurrentUnit(),
	}
	if c.Variant == escrow.VariantHourly {
		out.Contractor = addressString(c.Contractor)
		cfg := c.FeeConfig
		out.FeeConfig = &cfg
	}
	return out
}

type unitJSON struct {
	ID                 uint64        `json:"id"`
	Contractor         string        `json:"contractor"`
	Amount             string        `json:"amount"`
	AmountToClaim      string        `json:"amountToClaim"`
	AmountToWithdraw   string        `json:"amountToWithdraw"`
	FeeConfig          fees.Config   `json:"feeConfig"`
	ContractorDataHash string        `json:"contractorDataHash"`
	Status             escrow.Status `json:"status"`
	Winner             escrow.Winner `json:"winner"`
}

func newUnitJSON(id uint64, u *escrow.Unit) unitJSON {
	return unitJSON{
		ID:                 id,
		Contractor:         addressString(u.Contractor),
		Amount:             amountString(u.Amount),
		AmountToClaim:      amountString(u.AmountToClaim),
		AmountToWithdraw:   amountString(u.AmountToWithdraw),
		FeeConfig:          u.FeeConfig,
		ContractorDataHash: u.ContractorDataHash.Hex(),
		Status:             u.Status,
		Winner:             u.Winner,
	}
}

type depositReceiptJSON struct {
	ContractID  uint64 `json:"contractId"`
	FirstUnit   uint64 `json:"firstUnit"`
	CurrentUnit uint64 `json:"currentUnit"`
	Total       string `json:"total"`
	Fee         string `json:"fee"`
}

func newDepositReceiptJSON(r *escrow.DepositReceipt) depositReceiptJSON {
	return depositReceiptJSON{
		ContractID:  r.ContractID,
		FirstUnit:   r.FirstUnit,
		CurrentUnit: r.CurrentUnit,
		Total:       amountString(r.Total),
		Fee:         amountString(r.Fee),
	}
}

type bulkClaimJSON struct {
	Start     uint64   `json:"start"`
	End       uint64   `json:"end"`
	Claimed   string   `json:"claimed"`
	ClaimFee  string   `json:"claimFee"`
	ClientFee string   `json:"clientFee"`
	Units     []uint64 `json:"units"`
	Skipped   int      `json:"skipped"`
}

func newBulkClaimJSON(r *escrow.BulkClaimReceipt) bulkClaimJSON {
	units := r.Units
	if units == nil {
		units = []uint64{}
	}
	return bulkClaimJSON{
		Start:     r.Start,
		End:       r.End,
		Claimed:   amountString(r.Claimed),
		ClaimFee:  amountString(r.ClaimFee),
		ClientFee: amountString(r.ClientFee),
		Units:     units,
		Skipped:   r.Skipped,
	}
}

type scheduleJSON struct {
	Account     string `json:"account,omitempty"`
	CoverageBps uint16 `json:"coverageBps"`
	ClaimBps    uint16 `json:"claimBps"`
	Special     bool   `json:"special"`
}
