package events

import (
	"math/big"
	"strconv"

	"dealchain/core/types"
)

// EntityRegistered is emitted when a supplier or retailer is registered.
type EntityRegistered struct {
	ID     [32]byte
	Kind   string
	Owner  [20]byte
	Signer [20]byte
}

func (EntityRegistered) EventType() string { return TypeEntityCreated }

func (e EntityRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeEntityCreated,
		Attributes: map[string]string{
			"id":     formatID(e.ID),
			"kind":   e.Kind,
			"owner":  formatAccount(e.Owner),
			"signer": formatAccount(e.Signer),
		},
	}
}

// EntityUpdated is emitted when the signer or enabled flag of an entity
// changes.
type EntityUpdated struct {
	ID      [32]byte
	Signer  [20]byte
	Enabled bool
}

func (EntityUpdated) EventType() string { return TypeEntityUpdated }

func (e EntityUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeEntityUpdated,
		Attributes: map[string]string{
			"id":      formatID(e.ID),
			"signer":  formatAccount(e.Signer),
			"enabled": strconv.FormatBool(e.Enabled),
		},
	}
}

// DepositChanged is emitted after a deposit top-up or withdrawal.
type DepositChanged struct {
	ID      [32]byte
	Delta   *big.Int
	Balance *big.Int
	At      int64
}

func (DepositChanged) EventType() string { return TypeEntityDeposit }

func (e DepositChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeEntityDeposit,
		Attributes: map[string]string{
			"id":      formatID(e.ID),
			"delta":   formatAmount(e.Delta),
			"balance": formatAmount(e.Balance),
			"at":      intToString(e.At),
		},
	}
}
