package offer

import (
	"errors"
	"math/big"
)

// ErrInvalidOffer marks offers whose terms cannot back a deal.
var ErrInvalidOffer = errors.New("offer: invalid terms")

// MaxPenalty is the upper bound of a cancellation penalty in percent.
const MaxPenalty = 100

// Offer is the supplier-signed set of terms a deal is created from. It is
// immutable once signed.
type Offer struct {
	ID           [32]byte `json:"id"`
	Expire       int64    `json:"expire"`
	SupplierID   [32]byte `json:"supplierId"`
	ChainID      int64    `json:"chainId"`
	RequestHash  [32]byte `json:"requestHash"`
	OptionsHash  [32]byte `json:"optionsHash"`
	PaymentHash  [32]byte `json:"paymentHash"`
	CancelHash   [32]byte `json:"cancelHash"`
	Transferable bool     `json:"transferable"`
	CheckIn      int64    `json:"checkIn"`
	CheckOut     int64    `json:"checkOut"`
}

// PaymentOption is one accepted price/asset pair of an offer.
type PaymentOption struct {
	ID    [32]byte `json:"id"`
	Price *big.Int `json:"price"`
	Asset [20]byte `json:"asset"`
}

// Valid reports whether the price fits an unsigned 256-bit word.
func (p PaymentOption) Valid() bool {
	return p.Price != nil && p.Price.Sign() >= 0 && p.Price.BitLen() <= 256
}

// CancelOption is a cancellation threshold: Time seconds before check-in the
// buyer forfeits Penalty percent of the price.
type CancelOption struct {
	Time    int64 `json:"time"`
	Penalty uint8 `json:"penalty"`
}

// Validate checks the structural invariants of an offer.
func (o *Offer) Validate() error {
	if o == nil {
		return ErrInvalidOffer
	}
	if o.ID == ([32]byte{}) || o.SupplierID == ([32]byte{}) {
		return ErrInvalidOffer
	}
	if o.ChainID < 0 || o.Expire < 0 || o.CheckIn < 0 || o.CheckOut < o.CheckIn {
		return ErrInvalidOffer
	}
	return nil
}

// Clone returns a copy that can be mutated without affecting the receiver.
func (p PaymentOption) Clone() PaymentOption {
	out := p
	if p.Price != nil {
		out.Price = new(big.Int).Set(p.Price)
	} else {
		out.Price = big.NewInt(0)
	}
	return out
}

// FindPayment returns the option whose ID matches id.
func FindPayment(options []PaymentOption, id [32]byte) (PaymentOption, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt.Clone(), true
		}
	}
	return PaymentOption{}, false
}
