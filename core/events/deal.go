package events

import (
	"math/big"

	"dealchain/core/types"
)

const (
	TypeDealStatus    = "deal.status"
	TypeDealTransfer  = "deal.funds"
	TypeEntityCreated = "entity.registered"
	TypeEntityUpdated = "entity.updated"
	TypeEntityDeposit = "entity.deposit"
)

// DealStatus is emitted after every successful lifecycle transition.
type DealStatus struct {
	OfferID [32]byte
	Status  string
	Actor   [20]byte
}

func (DealStatus) EventType() string { return TypeDealStatus }

func (e DealStatus) Event() *types.Event {
	return &types.Event{
		Type: TypeDealStatus,
		Attributes: map[string]string{
			"offerId": formatID(e.OfferID),
			"status":  e.Status,
			"actor":   formatAccount(e.Actor),
		},
	}
}

// DealFunds records a movement of escrowed funds triggered by a transition.
type DealFunds struct {
	OfferID [32]byte
	Kind    string
	Asset   [20]byte
	To      [20]byte
	Amount  *big.Int
}

func (DealFunds) EventType() string { return TypeDealTransfer }

func (e DealFunds) Event() *types.Event {
	return &types.Event{
		Type: TypeDealTransfer,
		Attributes: map[string]string{
			"offerId": formatID(e.OfferID),
			"kind":    e.Kind,
			"asset":   formatAsset(e.Asset),
			"to":      formatAccount(e.To),
			"amount":  formatAmount(e.Amount),
		},
	}
}
