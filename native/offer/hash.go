package offer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	DomainName    = "DealMarket"
	DomainVersion = "1"
)

var (
	domainTypeHash        = ethcrypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	offerTypeHash         = ethcrypto.Keccak256Hash([]byte("Offer(bytes32 id,uint256 expire,bytes32 supplierId,uint256 chainId,bytes32 requestHash,bytes32 optionsHash,bytes32 paymentHash,bytes32 cancelHash,bool transferable,uint256 checkIn,uint256 checkOut)"))
	paymentOptionTypeHash = ethcrypto.Keccak256Hash([]byte("PaymentOption(bytes32 id,uint256 price,address asset)"))
	cancelOptionTypeHash  = ethcrypto.Keccak256Hash([]byte("CancelOption(uint256 time,uint256 penalty)"))
	checkInTypeHash       = ethcrypto.Keccak256Hash([]byte("CheckIn(bytes32 id)"))
	permitTypeHash        = ethcrypto.Keccak256Hash([]byte("Permit(address asset,address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
)

// Hasher produces the canonical typed-data digests signed by suppliers,
// buyers and asset holders. Every field is encoded as one 32-byte word and
// arrays hash as the digest of their concatenated element hashes, so
// distinct inputs never share an encoding.
type Hasher struct {
	ChainID   int64
	Verifying [20]byte
	domain    [32]byte
}

// NewHasher binds digests to the chain and the verifying (escrow) account.
func NewHasher(chainID int64, verifying [20]byte) *Hasher {
	h := &Hasher{ChainID: chainID, Verifying: verifying}
	h.domain = keccakWords(
		domainTypeHash,
		ethcrypto.Keccak256Hash([]byte(DomainName)),
		ethcrypto.Keccak256Hash([]byte(DomainVersion)),
		wordInt(chainID),
		wordAddress(verifying),
	)
	return h
}

// DomainSeparator returns the digest of the signing domain.
func (h *Hasher) DomainSeparator() [32]byte { return h.domain }

// Digest wraps a struct hash into the signable message.
func (h *Hasher) Digest(structHash [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte{0x19, 0x01}, h.domain[:], structHash[:])
}

// OfferStructHash hashes the offer fields.
func OfferStructHash(o *Offer) [32]byte {
	return keccakWords(
		offerTypeHash,
		o.ID,
		wordInt(o.Expire),
		o.SupplierID,
		wordInt(o.ChainID),
		o.RequestHash,
		o.OptionsHash,
		o.PaymentHash,
		o.CancelHash,
		wordBool(o.Transferable),
		wordInt(o.CheckIn),
		wordInt(o.CheckOut),
	)
}

// HashOffer returns the digest the supplier signer signs.
func (h *Hasher) HashOffer(o *Offer) [32]byte {
	return h.Digest(OfferStructHash(o))
}

// HashPaymentOptions returns the commitment stored in Offer.PaymentHash.
func HashPaymentOptions(options []PaymentOption) [32]byte {
	hashes := make([][32]byte, 0, len(options))
	for _, opt := range options {
		hashes = append(hashes, keccakWords(
			paymentOptionTypeHash,
			opt.ID,
			wordBig(opt.Price),
			wordAddress(opt.Asset),
		))
	}
	return keccakWords(hashes...)
}

// HashCancelOptions returns the commitment stored in Offer.CancelHash.
func HashCancelOptions(options []CancelOption) [32]byte {
	hashes := make([][32]byte, 0, len(options))
	for _, opt := range options {
		hashes = append(hashes, keccakWords(
			cancelOptionTypeHash,
			wordInt(opt.Time),
			wordUint(uint64(opt.Penalty)),
		))
	}
	return keccakWords(hashes...)
}

// CheckInVoucher returns the digest co-signed by buyer and supplier to
// authorise a check-in.
func (h *Hasher) CheckInVoucher(offerID [32]byte) [32]byte {
	return h.Digest(keccakWords(checkInTypeHash, offerID))
}

// PermitDigest returns the digest an asset holder signs to approve spender
// without a separate approval step.
func (h *Hasher) PermitDigest(asset, owner, spender [20]byte, value *big.Int, nonce uint64, deadline int64) [32]byte {
	return h.Digest(keccakWords(
		permitTypeHash,
		wordAddress(asset),
		wordAddress(owner),
		wordAddress(spender),
		wordBig(value),
		wordUint(nonce),
		wordInt(deadline),
	))
}

func keccakWords(words ...[32]byte) [32]byte {
	buf := make([]byte, 0, len(words)*32)
	for _, w := range words {
		buf = append(buf, w[:]...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

func wordAddress(addr [20]byte) [32]byte {
	var out [32]byte
	copy(out[:], common.LeftPadBytes(addr[:], 32))
	return out
}

func wordUint(v uint64) [32]byte {
	return wordBig(new(big.Int).SetUint64(v))
}

// wordInt encodes signed values as two's complement 256-bit words.
func wordInt(v int64) [32]byte {
	return wordBig(big.NewInt(v))
}

// wordBig keeps the low 256 bits; callers reject wider values beforehand.
func wordBig(v *big.Int) [32]byte {
	var out [32]byte
	if v == nil {
		return out
	}
	copy(out[:], math.U256Bytes(new(big.Int).Set(v)))
	return out
}

func wordBool(v bool) [32]byte {
	var out [32]byte
	if v {
		out[31] = 1
	}
	return out
}
