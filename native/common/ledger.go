package common

import (
	"errors"
	"math/big"
)

// ErrNilLedger is returned when no asset ledger has been configured.
var ErrNilLedger = errors.New("asset ledger not configured")

// AssetLedger is the fungible asset interface escrow operations rely on.
// Implementations are untrusted and may call back into the caller before
// returning, so callers must persist their own state first.
type AssetLedger interface {
	Transfer(asset, from, to [20]byte, amount *big.Int) error
	TransferFrom(asset, spender, from, to [20]byte, amount *big.Int) error
	DelegatedApprove(asset, owner, spender [20]byte, amount *big.Int, deadline int64, sig []byte) error
}

// Permit is a signed one-step approval allowing a pull without a separate
// approval transaction.
type Permit struct {
	Deadline  int64
	Signature []byte
}

// Present reports whether the permit carries a signature.
func (p *Permit) Present() bool {
	return p != nil && len(p.Signature) > 0
}

// PullFunds moves amount of asset from owner into the spender's custody,
// consuming the permit first when one is supplied.
func PullFunds(ledger AssetLedger, asset, owner, spender [20]byte, amount *big.Int, permit *Permit) error {
	if ledger == nil {
		return ErrNilLedger
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if permit.Present() {
		if err := ledger.DelegatedApprove(asset, owner, spender, amount, permit.Deadline, permit.Signature); err != nil {
			return err
		}
	}
	return ledger.TransferFrom(asset, spender, owner, spender, amount)
}

// PayOut sends amount of asset held by from to recipient. Zero amounts are
// skipped.
func PayOut(ledger AssetLedger, asset, from, to [20]byte, amount *big.Int) error {
	if ledger == nil {
		return ErrNilLedger
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return ledger.Transfer(asset, from, to, amount)
}
