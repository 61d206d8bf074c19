package routes

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-chi/chi/v5"

	"workescrow/native/escrow"
)

func (s *server) mountEscrow(r chi.Router) {
	r.Get("/instances", s.handleListInstances)
	r.Post("/instances", s.handleDeploy)
	r.Route("/instances/{instance}", func(r chi.Router) {
		r.Get("/", s.handleGetInstance)
		r.Post("/initialize", s.handleInitialize)
		r.Post("/deposits", s.handleDeposit)
		r.Get("/vault/{token}", s.handleVaultBalance)
		r.Get("/contracts", s.handleListContracts)
		r.Route("/contracts/{contractID}", func(r chi.Router) {
			r.Get("/", s.handleGetContract)
			r.Post("/milestones", s.handleAddMilestones)
			r.Post("/weeks", s.handleStartNextWeek)
			r.Post("/claim-all", s.handleClaimAll)
			r.Get("/units", s.handleListUnits)
			r.Route("/units/{unitID}", func(r chi.Router) {
				r.Get("/", s.handleGetUnit)
				r.Post("/submit", s.handleSubmit)
				r.Post("/approve", s.handleApprove)
				r.Post("/admin-approve", s.handleAdminApprove)
				r.Post("/refill", s.handleRefill)
				r.Post("/claim", s.handleClaim)
				r.Post("/return-request", s.unitAction(s.mods.Engine.RequestReturn))
				r.Post("/return-approve", s.unitAction(s.mods.Engine.ApproveReturn))
				r.Post("/return-cancel", s.handleCancelReturn)
				r.Post("/dispute", s.unitAction(s.mods.Engine.CreateDispute))
				r.Post("/resolve", s.handleResolveDispute)
				r.Post("/withdraw", s.handleWithdraw)
			})
		})
	})
}

// unitTarget is the instance, contract and unit addressed by the path.
type unitTarget struct {
	caller     common.Address
	instance   common.Address
	contractID uint64
	unitID     uint64
}

func (s *server) contractTarget(w http.ResponseWriter, r *http.Request) (unitTarget, bool) {
	var target unitTarget
	caller, ok := callerOf(w, r)
	if !ok {
		return target, false
	}
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return target, false
	}
	contractID, err := uintParam(r, "contractID")
	if err != nil {
		writeError(w, err)
		return target, false
	}
	return unitTarget{caller: caller, instance: instance, contractID: contractID}, true
}

func (s *server) unitTargetOf(w http.ResponseWriter, r *http.Request) (unitTarget, bool) {
	target, ok := s.contractTarget(w, r)
	if !ok {
		return target, false
	}
	unitID, err := uintParam(r, "unitID")
	if err != nil {
		writeError(w, err)
		return target, false
	}
	target.unitID = unitID
	return target, true
}

// respondUnit answers with the unit's state after a successful transition.
func (s *server) respondUnit(w http.ResponseWriter, t unitTarget) {
	unit, err := s.mods.Engine.Unit(t.instance, t.contractID, t.unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUnitJSON(t.unitID, unit))
}

type unitOp func(ctx context.Context, instance, caller common.Address, contractID, unitID uint64) error

func (s *server) unitAction(op unitOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.unitTargetOf(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), t.instance, t.caller, t.contractID, t.unitID); err != nil {
			writeError(w, err)
			return
		}
		s.respondUnit(w, t)
	}
}

func (s *server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	addrs, err := s.mods.Engine.Instances()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addressString(addr))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

type deployRequest struct {
	Variant string      `json:"variant"`
	Salt    common.Hash `json:"salt"`
}

func (s *server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req deployRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	variant, err := escrow.ParseVariant(req.Variant)
	if err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.mods.Engine.Deploy(r.Context(), caller, variant, req.Salt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInstanceJSON(inst))
}

func (s *server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.mods.Engine.Instance(instance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstanceJSON(inst))
}

type initializeRequest struct {
	Client common.Address `json:"client"`
}

func (s *server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mods.Engine.Initialize(r.Context(), instance, caller, req.Client); err != nil {
		writeError(w, err)
		return
	}
	s.handleGetInstance(w, r)
}

func (s *server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	var req depositRequestJSON
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.mods.Engine.Deposit(r.Context(), instance, caller, req.toRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDepositReceiptJSON(receipt))
}

func (s *server) handleAddMilestones(w http.ResponseWriter, r *http.Request) {
	t, ok := s.contractTarget(w, r)
	if !ok {
		return
	}
	var req depositRequestJSON
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ContractID = t.contractID
	receipt, err := s.mods.Engine.AddMilestones(r.Context(), t.instance, t.caller, req.toRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDepositReceiptJSON(receipt))
}

func (s *server) handleStartNextWeek(w http.ResponseWriter, r *http.Request) {
	t, ok := s.contractTarget(w, r)
	if !ok {
		return
	}
	weekID, err := s.mods.Engine.StartNextWeek(r.Context(), t.instance, t.caller, t.contractID)
	if err != nil {
		writeError(w, err)
		return
	}
	t.unitID = weekID
	s.respondUnit(w, t)
}

func (s *server) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := addressParam(r, "token")
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.mods.Engine.VaultBalance(instance, token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"instance": addressString(instance),
		"token":    addressString(token),
		"balance":  amountString(balance),
	})
}

func (s *server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.mods.Engine.Contracts(instance)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": ids})
}

func (s *server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	contractID, err := uintParam(r, "contractID")
	if err != nil {
		writeError(w, err)
		return
	}
	contract, err := s.mods.Engine.Contract(instance, contractID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newContractJSON(contract))
}

func (s *server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	contractID, err := uintParam(r, "contractID")
	if err != nil {
		writeError(w, err)
		return
	}
	contract, err := s.mods.Engine.Contract(instance, contractID)
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := uintQuery(r, "start", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := uintQuery(r, "end", contract.CurrentUnit())
	if err != nil {
		writeError(w, err)
		return
	}
	units, err := s.mods.Engine.Units(instance, contractID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]unitJSON, 0, len(units))
	for i, unit := range units {
		out = append(out, newUnitJSON(start+uint64(i), unit))
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": out})
}

func (s *server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	instance, err := addressParam(r, "instance")
	if err != nil {
		writeError(w, err)
		return
	}
	contractID, err := uintParam(r, "contractID")
	if err != nil {
		writeError(w, err)
		return
	}
	unitID, err := uintParam(r, "unitID")
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondUnit(w, unitTarget{instance: instance, contractID: contractID, unitID: unitID})
}

type submitRequest struct {
	Data          hexutil.Bytes     `json:"data"`
	Salt          hexutil.Bytes     `json:"salt"`
	Authorization authorizationJSON `json:"authorization"`
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.mods.Engine.Submit(r.Context(), t.instance, t.caller, t.contractID, t.unitID, escrow.SubmitRequest{
		Data:          req.Data,
		Salt:          req.Salt,
		Authorization: req.Authorization.toAuthorization(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondUnit(w, t)
}

type approveRequest struct {
	Amount             *math.HexOrDecimal256 `json:"amount"`
	Receiver           common.Address        `json:"receiver"`
	InitializeNextWeek bool                  `json:"initializeNextWeek,omitempty"`
}

func (s *server) handleApprove(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mods.Engine.Approve(r.Context(), t.instance, t.caller, t.contractID, t.unitID, amountOf(req.Amount), req.Receiver); err != nil {
		writeError(w, err)
		return
	}
	s.respondUnit(w, t)
}

func (s *server) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := s.mods.Engine.AdminApprove(r.Context(), t.instance, t.caller, t.contractID, t.unitID,
		amountOf(req.Amount), req.Receiver, req.InitializeNextWeek)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondUnit(w, t)
}

type refillRequest struct {
	Amount *math.HexOrDecimal256 `json:"amount"`
	// ToClaim earmarks the refill for the contractor of an approved unit.
	ToClaim bool `json:"toClaim,omitempty"`
}

func (s *server) handleRefill(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	var req refillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	refill := s.mods.Engine.RefillPrepayment
	if req.ToClaim {
		refill = s.mods.Engine.RefillClaim
	}
	receipt, err := refill(r.Context(), t.instance, t.caller, t.contractID, t.unitID, amountOf(req.Amount))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount": amountString(receipt.Amount),
		"total":  amountString(receipt.Total),
		"fee":    amountString(receipt.Fee),
	})
}

func (s *server) handleClaim(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	receipt, err := s.mods.Engine.Claim(r.Context(), t.instance, t.caller, t.contractID, t.unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"claimable": amountString(receipt.Claimable),
		"claimFee":  amountString(receipt.ClaimFee),
		"clientFee": amountString(receipt.ClientFee),
	})
}

type cancelReturnRequest struct {
	Status escrow.Status `json:"status"`
}

func (s *server) handleCancelReturn(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	var req cancelReturnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mods.Engine.CancelReturn(r.Context(), t.instance, t.caller, t.contractID, t.unitID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	s.respondUnit(w, t)
}

type resolveRequest struct {
	Winner           escrow.Winner         `json:"winner"`
	ClientAmount     *math.HexOrDecimal256 `json:"clientAmount"`
	ContractorAmount *math.HexOrDecimal256 `json:"contractorAmount"`
}

func (s *server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	clientAmount, contractorAmount := amountOf(req.ClientAmount), amountOf(req.ContractorAmount)
	if clientAmount == nil {
		clientAmount = new(big.Int)
	}
	if contractorAmount == nil {
		contractorAmount = new(big.Int)
	}
	err := s.mods.Engine.ResolveDispute(r.Context(), t.instance, t.caller, t.contractID, t.unitID,
		req.Winner, clientAmount, contractorAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	s.respondUnit(w, t)
}

func (s *server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	t, ok := s.unitTargetOf(w, r)
	if !ok {
		return
	}
	receipt, err := s.mods.Engine.Withdraw(r.Context(), t.instance, t.caller, t.contractID, t.unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"principal": amountString(receipt.Principal),
		"fee":       amountString(receipt.Fee),
		"refunded":  amountString(receipt.Refunded),
	})
}

type claimAllRequest struct {
	Start uint64  `json:"start"`
	End   *uint64 `json:"end,omitempty"`
}

func (s *server) handleClaimAll(w http.ResponseWriter, r *http.Request) {
	t, ok := s.contractTarget(w, r)
	if !ok {
		return
	}
	var req claimAllRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var end uint64
	if req.End != nil {
		end = *req.End
	} else {
		contract, err := s.mods.Engine.Contract(t.instance, t.contractID)
		if err != nil {
			writeError(w, err)
			return
		}
		end = contract.CurrentUnit()
	}
	receipt, err := s.mods.Engine.ClaimAll(r.Context(), t.instance, t.caller, t.contractID, req.Start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBulkClaimJSON(receipt))
}
