package deal

import "errors"

var (
	ErrNotAllowedAuth          = errors.New("deal: caller not authorized")
	ErrInvalidOfferSignature   = errors.New("deal: invalid offer signature")
	ErrDealNotFound            = errors.New("deal: not found")
	ErrDealExists              = errors.New("deal: already exists")
	ErrNotAllowedStatus        = errors.New("deal: operation not allowed in current status")
	ErrInvalidPaymentOptions   = errors.New("deal: payment options do not match offer")
	ErrInvalidPaymentID        = errors.New("deal: unknown payment option")
	ErrInvalidCancelOptions    = errors.New("deal: cancel options do not match offer")
	ErrDealFundsTransferFailed = errors.New("deal: funds transfer failed")
	ErrNotAllowedTime          = errors.New("deal: operation not allowed yet")
	ErrDisabledEntity          = errors.New("deal: entity not enabled")
	ErrOfferExpired            = errors.New("deal: offer expired")

	errNilState    = errors.New("deal engine: state not configured")
	errNilLedger   = errors.New("deal engine: ledger not configured")
	errNilRegistry = errors.New("deal engine: entity registry not configured")
	errNilVerifier = errors.New("deal engine: signature verifier not configured")
)
