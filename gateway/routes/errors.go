package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"workescrow/gateway/auth"
	"workescrow/native/access"
	"workescrow/native/bank"
	"workescrow/native/escrow"
	"workescrow/native/registry"
)

// badRequest marks decoding and validation failures raised by the handlers
// themselves.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func invalid(err error) error { return badRequest{err: err} }

var statusBySentinel = []struct {
	status    int
	sentinels []error
}{
	{http.StatusNotFound, []error{
		escrow.ErrUnknownInstance,
		escrow.ErrInvalidContractID,
		escrow.ErrInvalidMilestoneID,
		escrow.ErrInvalidWeekID,
	}},
	{http.StatusUnauthorized, []error{
		auth.ErrBadSignature,
		auth.ErrChallengeUnknown,
		auth.ErrChallengeExpired,
	}},
	{http.StatusForbidden, []error{
		escrow.ErrUnauthorizedAccount,
		escrow.ErrBlacklistedAccount,
		escrow.ErrUnauthorizedReceiver,
		escrow.ErrUnauthorizedToApproveReturn,
		escrow.ErrUnauthorizedToApproveDispute,
		escrow.ErrInvalidSignature,
		escrow.ErrAuthorizationExpired,
		escrow.ErrInvalidContractorDataHash,
	}},
	{http.StatusConflict, []error{
		escrow.ErrInvalidStatusForSubmit,
		escrow.ErrInvalidStatusForApprove,
		escrow.ErrInvalidStatusToClaim,
		escrow.ErrInvalidStatusToWithdraw,
		escrow.ErrInvalidStatusForRefill,
		escrow.ErrInvalidStatusProvided,
		escrow.ErrContractIDAlreadyExists,
		escrow.ErrAlreadyInitialized,
		escrow.ErrNotInitialized,
		escrow.ErrInstanceExists,
		escrow.ErrEscrowPaused,
		escrow.ErrNotApproved,
		escrow.ErrNoReturnRequested,
		escrow.ErrReturnNotAllowed,
		escrow.ErrCreateDisputeNotAllowed,
		escrow.ErrDisputeNotActiveForThisDeposit,
	}},
	{http.StatusUnprocessableEntity, []error{
		escrow.ErrNotEnoughDeposit,
		escrow.ErrNoFundsAvailableForWithdraw,
		escrow.ErrResolutionExceedsDepositedAmount,
		escrow.ErrTransferFailed,
		escrow.ErrPaymentTokenMismatch,
		escrow.ErrNotSupportedPaymentToken,
		escrow.ErrNotSetFeeManager,
		escrow.ErrOutOfRange,
		escrow.ErrSubmitNotSupported,
		escrow.ErrUnsupportedOperation,
		escrow.ErrFeeTooHigh,
		bank.ErrInsufficientBalance,
		bank.ErrInsufficientAllowance,
	}},
	{http.StatusBadRequest, []error{
		escrow.ErrInvalidAmount,
		escrow.ErrInvalidRange,
		escrow.ErrInvalidVariant,
		escrow.ErrInvalidWinnerSpecified,
		escrow.ErrZeroAddressProvided,
		escrow.ErrTooManyMilestones,
		escrow.ErrNoDepositsProvided,
		escrow.ErrUnsupportedFeeConfiguration,
		access.ErrUnknownRole,
		access.ErrZeroAddress,
		registry.ErrZeroAddress,
		auth.ErrZeroAccount,
	}},
}

// statusFor maps an engine, module or handler error onto an HTTP status.
func statusFor(err error) int {
	var br badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest
	}
	for _, group := range statusBySentinel {
		for _, sentinel := range group.sentinels {
			if errors.Is(err, sentinel) {
				return group.status
			}
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" || status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
