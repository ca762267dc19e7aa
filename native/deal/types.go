package deal

import (
	"math/big"

	"dealchain/native/offer"
)

// Status enumerates the lifecycle states of a deal.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusCreated
	StatusClaimed
	StatusRejected
	StatusRefunded
	StatusCancelled
	StatusCheckedIn
	StatusCheckedOut
	StatusDisputed
)

// Valid reports whether the status is one a stored deal can hold.
func (s Status) Valid() bool {
	return s >= StatusCreated && s <= StatusDisputed
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusRefunded, StatusCancelled, StatusCheckedOut, StatusDisputed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusClaimed:
		return "claimed"
	case StatusRejected:
		return "rejected"
	case StatusRefunded:
		return "refunded"
	case StatusCancelled:
		return "cancelled"
	case StatusCheckedIn:
		return "checked_in"
	case StatusCheckedOut:
		return "checked_out"
	case StatusDisputed:
		return "disputed"
	default:
		return "uninitialized"
	}
}

// transitions lists, per status, the statuses an operation may move a deal
// to.
var transitions = map[Status][]Status{
	StatusUninitialized: {StatusCreated},
	StatusCreated:       {StatusClaimed, StatusRejected, StatusCancelled},
	StatusClaimed:       {StatusCancelled, StatusRefunded, StatusCheckedIn},
	StatusCheckedIn:     {StatusRefunded, StatusCheckedOut, StatusDisputed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Deal is the escrowed instantiation of an offer. It is keyed by the offer
// id; a zero offer id means the deal does not exist.
type Deal struct {
	CreatedAt  int64
	Offer      offer.Offer
	RetailerID [32]byte
	Buyer      [20]byte
	Price      *big.Int
	Asset      [20]byte
	Status     Status
}

// HasRetailer reports whether a retailer referred the deal.
func (d *Deal) HasRetailer() bool {
	return d != nil && d.RetailerID != ([32]byte{})
}

// Clone returns a deep copy of the deal.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Price != nil {
		clone.Price = new(big.Int).Set(d.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}
