package events

import (
	"math/big"
	"strings"

	"dealchain/core/types"
)

const (
	// TypeTokenSupply is emitted whenever an asset's supply changes.
	TypeTokenSupply = "ledger.supply"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
)

// TokenSupply captures a supply delta for a ledger asset.
type TokenSupply struct {
	Asset     [20]byte
	Recipient [20]byte
	Total     *big.Int
	Delta     *big.Int
	Reason    string
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the structured supply change event for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{
		"asset":     formatAsset(e.Asset),
		"recipient": formatAccount(e.Recipient),
		"total":     formatAmount(e.Total),
	}
	if e.Delta != nil {
		attrs["delta"] = e.Delta.String()
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
