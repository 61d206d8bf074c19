package escrow

import (
	"errors"

	nativecommon "workescrow/native/common"
	"workescrow/native/fees"
)

var (
	ErrInvalidAmount                    = errors.New("escrow: invalid amount")
	ErrInvalidStatusForSubmit           = errors.New("escrow: invalid status for submit")
	ErrInvalidStatusForApprove          = errors.New("escrow: invalid status for approve")
	ErrInvalidStatusToClaim             = errors.New("escrow: invalid status to claim")
	ErrInvalidStatusToWithdraw          = errors.New("escrow: invalid status to withdraw")
	ErrInvalidStatusForRefill           = errors.New("escrow: invalid status for refill")
	ErrInvalidStatusProvided            = errors.New("escrow: invalid status provided")
	ErrInvalidContractID                = errors.New("escrow: invalid contract id")
	ErrInvalidMilestoneID               = errors.New("escrow: invalid milestone id")
	ErrInvalidWeekID                    = errors.New("escrow: invalid week id")
	ErrInvalidRange                     = errors.New("escrow: invalid range")
	ErrOutOfRange                       = errors.New("escrow: out of range")
	ErrUnauthorizedReceiver             = errors.New("escrow: unauthorized receiver")
	ErrUnauthorizedToApproveReturn      = errors.New("escrow: unauthorized to approve return")
	ErrUnauthorizedToApproveDispute     = errors.New("escrow: unauthorized to approve dispute")
	ErrNotSupportedPaymentToken         = errors.New("escrow: payment token not supported")
	ErrPaymentTokenMismatch             = errors.New("escrow: payment token mismatch")
	ErrNotSetFeeManager                 = errors.New("escrow: fee manager not set")
	ErrResolutionExceedsDepositedAmount = errors.New("escrow: resolution exceeds deposited amount")
	ErrNotEnoughDeposit                 = errors.New("escrow: not enough deposit")
	ErrNoReturnRequested                = errors.New("escrow: no return requested")
	ErrReturnNotAllowed                 = errors.New("escrow: return not allowed")
	ErrCreateDisputeNotAllowed          = errors.New("escrow: create dispute not allowed")
	ErrDisputeNotActiveForThisDeposit   = errors.New("escrow: dispute not active for this deposit")
	ErrNotApproved                      = errors.New("escrow: not approved")
	ErrNoFundsAvailableForWithdraw      = errors.New("escrow: no funds available for withdraw")
	ErrInvalidSignature                 = errors.New("escrow: invalid signature")
	ErrInvalidContractorDataHash        = errors.New("escrow: invalid contractor data hash")
	ErrAuthorizationExpired             = errors.New("escrow: authorization expired")
	ErrContractIDAlreadyExists          = errors.New("escrow: contract id already exists")
	ErrTooManyMilestones                = errors.New("escrow: too many milestones")
	ErrNoDepositsProvided               = errors.New("escrow: no deposits provided")
	ErrAlreadyInitialized               = errors.New("escrow: already initialized")
	ErrNotInitialized                   = errors.New("escrow: not initialized")
	ErrInvalidWinnerSpecified           = errors.New("escrow: invalid winner specified")
	ErrSubmitNotSupported               = errors.New("escrow: submit not supported")
	ErrUnsupportedOperation             = errors.New("escrow: operation not supported by variant")
	ErrEscrowPaused                     = errors.New("escrow: paused")
	ErrInvariantViolation               = errors.New("escrow: invariant violation")
	ErrTransferFailed                   = errors.New("escrow: transfer failed")
	ErrInvalidVariant                   = errors.New("escrow: invalid variant")
	ErrInstanceExists                   = errors.New("escrow: instance already deployed")
	ErrUnknownInstance                  = errors.New("escrow: unknown instance")
)

// Errors shared with the collaborating modules so callers can match a single
// sentinel regardless of which component raised it.
var (
	ErrUnauthorizedAccount         = nativecommon.ErrUnauthorizedAccount
	ErrBlacklistedAccount          = nativecommon.ErrBlacklistedAccount
	ErrZeroAddressProvided         = fees.ErrZeroAddressProvided
	ErrUnsupportedFeeConfiguration = fees.ErrUnsupportedFeeConfiguration
	ErrFeeTooHigh                  = fees.ErrFeeTooHigh
)

var (
	errNilState    = errors.New("escrow engine: state not configured")
	errNilRegistry = errors.New("escrow engine: registry not configured")
	errNilAdmins   = errors.New("escrow engine: admin manager not configured")
	errNilLedger   = errors.New("escrow engine: token ledger not configured")
	errNilFees     = errors.New("escrow engine: fee engine not configured")
	errNilVerifier = errors.New("escrow engine: signature verifier not configured")
)
