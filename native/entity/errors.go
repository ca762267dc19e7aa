package entity

import "errors"

var (
	ErrNotEntityOwner        = errors.New("entity: caller is not the entity owner")
	ErrEntityNotFound        = errors.New("entity: not found")
	ErrEntityExists          = errors.New("entity: already registered")
	ErrInvalidKind           = errors.New("entity: kind has no configured minimum deposit")
	ErrInvalidSigner         = errors.New("entity: signer must not be empty")
	ErrInvalidAmount         = errors.New("entity: amount must be positive")
	ErrDepositTooSmall       = errors.New("entity: deposit below kind minimum")
	ErrDepositNotEnough      = errors.New("entity: deposit balance too low")
	ErrDepositTransferFailed = errors.New("entity: deposit transfer failed")

	errNilState  = errors.New("entity registry: state not configured")
	errNilLedger = errors.New("entity registry: ledger not configured")
)
