package rpc

import (
	"errors"
	"net/http"

	"dealchain/core/state"
	"dealchain/native/deal"
	"dealchain/native/entity"
	"dealchain/native/fees"
	"dealchain/native/offer"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

const (
	codeDealInvalidParams = -32021
	codeDealNotFound      = -32022
	codeDealForbidden     = -32023
	codeDealConflict      = -32024
	codeDealInternal      = -32025
	codeDealFunds         = -32026
)

// ParamError reports a malformed request parameter.
type ParamError struct {
	Message string
}

func (e *ParamError) Error() string { return e.Message }

func invalidParams(msg string) error { return &ParamError{Message: msg} }

var (
	errMintDisabled = errors.New("rpc: ledger minting disabled")
	errAuditOffline = errors.New("rpc: audit store not configured")
	// errCustodyAccount guards balances that only registry and engine
	// operations may move.
	errCustodyAccount = errors.New("rpc: custody accounts cannot be spent directly")
)

var (
	notFoundErrors = []error{
		deal.ErrDealNotFound,
		entity.ErrEntityNotFound,
	}
	forbiddenErrors = []error{
		deal.ErrNotAllowedAuth,
		entity.ErrNotEntityOwner,
		errMintDisabled,
		errCustodyAccount,
	}
	conflictErrors = []error{
		deal.ErrDealExists,
		deal.ErrNotAllowedStatus,
		deal.ErrNotAllowedTime,
		deal.ErrOfferExpired,
		deal.ErrDisabledEntity,
		entity.ErrEntityExists,
	}
	fundsErrors = []error{
		deal.ErrDealFundsTransferFailed,
		entity.ErrDepositTransferFailed,
		state.ErrInsufficientBalance,
		state.ErrInsufficientAllowance,
		state.ErrBalanceOverflow,
	}
	invalidErrors = []error{
		deal.ErrInvalidOfferSignature,
		deal.ErrInvalidPaymentOptions,
		deal.ErrInvalidPaymentID,
		deal.ErrInvalidCancelOptions,
		offer.ErrInvalidOffer,
		entity.ErrInvalidKind,
		entity.ErrInvalidSigner,
		entity.ErrInvalidAmount,
		entity.ErrDepositTooSmall,
		entity.ErrDepositNotEnough,
		state.ErrInvalidAmount,
		state.ErrInvalidPermit,
		state.ErrPermitExpired,
		fees.ErrInvalidConfig,
		fees.ErrInvalidPercent,
	}
)

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// describeError maps an operation failure onto the HTTP status, JSON-RPC
// code, message and data written to the caller.
func describeError(err error) (int, int, string, interface{}) {
	var paramErr *ParamError
	switch {
	case errors.As(err, &paramErr):
		return http.StatusBadRequest, codeInvalidParams, "invalid_params", paramErr.Message
	case matches(err, fundsErrors):
		return http.StatusConflict, codeDealFunds, "funds_unavailable", err.Error()
	case matches(err, notFoundErrors):
		return http.StatusNotFound, codeDealNotFound, "not_found", err.Error()
	case matches(err, forbiddenErrors):
		return http.StatusForbidden, codeDealForbidden, "forbidden", err.Error()
	case matches(err, conflictErrors):
		return http.StatusConflict, codeDealConflict, "conflict", err.Error()
	case matches(err, invalidErrors):
		return http.StatusBadRequest, codeDealInvalidParams, "invalid_params", err.Error()
	case errors.Is(err, errAuditOffline):
		return http.StatusServiceUnavailable, codeServerError, "unavailable", err.Error()
	default:
		return http.StatusInternalServerError, codeDealInternal, "internal_error", err.Error()
	}
}
