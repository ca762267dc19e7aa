package entity

import (
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Kind classifies a registered entity.
type Kind string

const (
	KindSupplier Kind = "supplier"
	KindRetailer Kind = "retailer"
)

// NormalizeKind canonicalises kind identifiers for consistent lookups.
func NormalizeKind(kind string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(kind)))
}

// Entity is a registered supplier or retailer. The ID is derived from the
// owner and a salt and never changes; Signer and Enabled are owner-mutable.
type Entity struct {
	ID      [32]byte
	Kind    Kind
	Owner   [20]byte
	Signer  [20]byte
	Enabled bool
	Deposit *big.Int
}

// DeriveID returns keccak256(owner || salt).
func DeriveID(owner [20]byte, salt [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(owner[:], salt[:])
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Deposit != nil {
		clone.Deposit = new(big.Int).Set(e.Deposit)
	} else {
		clone.Deposit = big.NewInt(0)
	}
	return &clone
}

// IsEnabled reports whether the entity may take part in deals: the owner
// flag must be set and a positive deposit must be held. A zero deposit
// disables the entity even when the flag is set.
func (e *Entity) IsEnabled() bool {
	if e == nil || !e.Enabled {
		return false
	}
	return e.Deposit != nil && e.Deposit.Sign() > 0
}
