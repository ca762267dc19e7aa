package events

import (
	"math/big"

	"dealchain/core/types"
)

const (
	// TypeTransfer is emitted for direct ledger balance movements.
	TypeTransfer = "ledger.transfer"
)

type Transfer struct {
	Asset  [20]byte
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"asset":  formatAsset(e.Asset),
			"from":   formatAccount(e.From),
			"to":     formatAccount(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}
