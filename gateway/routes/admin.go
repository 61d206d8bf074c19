package routes

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-chi/chi/v5"
)

func (s *server) mountTokens(r chi.Router) {
	r.Post("/tokens/{token}/approve", s.handleTokenApprove)
	r.Get("/tokens/{token}/balances/{owner}", s.handleTokenBalance)
	r.Get("/fees/{account}", s.handleFeeSchedule)
}

func (s *server) mountAdmin(r chi.Router) {
	r.Post("/tokens", s.handleSetPaymentToken)
	r.Post("/blacklist", s.handleSetBlacklisted)
	r.Post("/treasury", s.handleSetTreasury)
	r.Post("/fee-manager", s.handleSetFeeManager)
	r.Post("/pause", s.handleSetPaused)
	r.Post("/fees/default", s.handleUpdateDefaultFees)
	r.Post("/fees/special", s.handleSetSpecialFees)
	r.Delete("/fees/special/{account}", s.handleResetSpecialFees)
	r.Post("/roles", s.handleRoles)
}

// adminWrite decodes the body into req and runs apply inside an engine
// update on behalf of the caller.
func adminWrite[T any](s *server, operation string, apply func(caller common.Address, req T) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerOf(w, r)
		if !ok {
			return
		}
		var req T
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.update(r.Context(), operation, func() error { return apply(caller, req) }); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func (s *server) update(ctx context.Context, operation string, fn func() error) error {
	return s.mods.Engine.Update(ctx, operation, fn)
}

type tokenApproveRequest struct {
	Spender common.Address        `json:"spender"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

func (s *server) handleTokenApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	token, err := addressParam(r, "token")
	if err != nil {
		writeError(w, err)
		return
	}
	var req tokenApproveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	err = s.update(r.Context(), "token_approve", func() error {
		return s.mods.Ledger.Approve(token, caller, req.Spender, amountOf(req.Amount))
	})
	if err != nil {
		writeError(w, err)
		return
	}
	allowance, err := s.mods.Ledger.Allowance(token, caller, req.Spender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     addressString(token),
		"owner":     addressString(caller),
		"spender":   addressString(req.Spender),
		"allowance": amountString(allowance),
	})
}

func (s *server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	token, err := addressParam(r, "token")
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.mods.Ledger.BalanceOf(token, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   addressString(token),
		"owner":   addressString(owner),
		"balance": amountString(balance),
	})
}

func (s *server) handleFeeSchedule(w http.ResponseWriter, r *http.Request) {
	account, err := addressParam(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	schedule, special, err := s.mods.Fees.FeeSchedule(account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleJSON{
		Account:     addressString(account),
		CoverageBps: schedule.CoverageBps,
		ClaimBps:    schedule.ClaimBps,
		Special:     special,
	})
}

type paymentTokenRequest struct {
	Token     common.Address `json:"token"`
	Supported bool           `json:"supported"`
}

type blacklistRequest struct {
	Account     common.Address `json:"account"`
	Blacklisted bool           `json:"blacklisted"`
}

type addressRequest struct {
	Address common.Address `json:"address"`
}

type pauseRequest struct {
	Module string `json:"module,omitempty"`
	Paused bool   `json:"paused"`
}

type feesRequest struct {
	Account     common.Address `json:"account,omitempty"`
	CoverageBps uint16         `json:"coverageBps"`
	ClaimBps    uint16         `json:"claimBps"`
}

type roleRequest struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
	Grant   bool           `json:"grant"`
}

func (s *server) handleSetPaymentToken(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "set_payment_token", func(caller common.Address, req paymentTokenRequest) error {
		return s.mods.Registry.SetPaymentToken(caller, req.Token, req.Supported)
	})(w, r)
}

func (s *server) handleSetBlacklisted(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "set_blacklisted", func(caller common.Address, req blacklistRequest) error {
		return s.mods.Registry.SetBlacklisted(caller, req.Account, req.Blacklisted)
	})(w, r)
}

func (s *server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "set_treasury", func(caller common.Address, req addressRequest) error {
		return s.mods.Registry.SetTreasury(caller, req.Address)
	})(w, r)
}

func (s *server) handleSetFeeManager(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "set_fee_manager", func(caller common.Address, req addressRequest) error {
		return s.mods.Registry.SetFeeManager(caller, req.Address)
	})(w, r)
}

func (s *server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "set_paused", func(caller common.Address, req pauseRequest) error {
		return s.mods.Registry.SetPaused(caller, req.Module, req.Paused)
	})(w, r)
}

func (s *server) handleUpdateDefaultFees(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "update_default_fees", func(caller common.Address, req feesRequest) error {
		return s.mods.Fees.UpdateDefaultFees(caller, req.CoverageBps, req.ClaimBps)
	})(w, r)
}

func (s *server) handleSetSpecialFees(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "set_special_fees", func(caller common.Address, req feesRequest) error {
		return s.mods.Fees.SetSpecialFees(caller, req.Account, req.CoverageBps, req.ClaimBps)
	})(w, r)
}

func (s *server) handleResetSpecialFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	account, err := addressParam(r, "account")
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.update(r.Context(), "reset_special_fees", func() error {
		return s.mods.Fees.ResetSpecialFees(caller, account)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRoles(w http.ResponseWriter, r *http.Request) {
	adminWrite(s, "update_role", func(caller common.Address, req roleRequest) error {
		if req.Grant {
			return s.mods.Access.Grant(caller, req.Role, req.Account)
		}
		return s.mods.Access.Revoke(caller, req.Role, req.Account)
	})(w, r)
}
