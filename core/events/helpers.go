package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"dealchain/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAccount(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.AccountPrefix, addr).String()
}

func formatAsset(addr [20]byte) string {
	return crypto.AddressFromArray(crypto.AssetPrefix, addr).String()
}
