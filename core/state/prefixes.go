package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	kvPrefix        = []byte("kv/")
	entityPrefix    = []byte("entity/record/")
	dealPrefix      = []byte("deal/record/")
	balancePrefix   = []byte("ledger/balance/")
	allowancePrefix = []byte("ledger/allowance/")
	noncePrefix     = []byte("ledger/nonce/")
	supplyPrefix    = []byte("ledger/supply/")
	stateVersionKey = []byte("state/version")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte { return prefixedKey(kvPrefix, key) }

func entityKey(id [32]byte) []byte { return prefixedKey(entityPrefix, id[:]) }

func dealKey(id [32]byte) []byte { return prefixedKey(dealPrefix, id[:]) }

func balanceKey(asset, holder [20]byte) []byte {
	return prefixedKey(balancePrefix, asset[:], holder[:])
}

func allowanceKey(asset, owner, spender [20]byte) []byte {
	return prefixedKey(allowancePrefix, asset[:], owner[:], spender[:])
}

func nonceKey(asset, owner [20]byte) []byte {
	return prefixedKey(noncePrefix, asset[:], owner[:])
}

func supplyKey(asset [20]byte) []byte { return prefixedKey(supplyPrefix, asset[:]) }
