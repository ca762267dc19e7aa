package crypto

import (
	"errors"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = 65

var (
	ErrPolicyExists    = errors.New("crypto: policy already registered")
	ErrInvalidPolicy   = errors.New("crypto: invalid signer policy")
	ErrUnknownIdentity = errors.New("crypto: identity has no policy")
)

// SignatureVerifier reports whether a digest was authorised by the claimed
// identity.
type SignatureVerifier interface {
	Verify(signer [20]byte, hash [32]byte, sig []byte) bool
}

// Signer is the capability attached to an identity that validates signatures
// on its behalf.
type Signer interface {
	Verify(hash [32]byte, sig []byte) bool
}

// RawKey validates signatures by public key recovery.
type RawKey struct {
	Address [20]byte
}

// Verify recovers the signing key and compares its address.
func (k RawKey) Verify(hash [32]byte, sig []byte) bool {
	recovered, ok := Recover(hash, sig)
	if !ok {
		return false
	}
	return recovered == k.Address
}

// DelegatedPolicy delegates validation to policy code bound to an identity.
type DelegatedPolicy struct {
	Identity [20]byte
	Policy   Policy
}

// Verify forwards to the bound policy.
func (d DelegatedPolicy) Verify(hash [32]byte, sig []byte) bool {
	if d.Policy == nil {
		return false
	}
	return d.Policy.IsValidSignature(hash, sig)
}

// Policy is the validation logic of a smart signer.
type Policy interface {
	IsValidSignature(hash [32]byte, sig []byte) bool
}

// Recover returns the address that produced sig over hash. Both V encodings
// (0/1 and 27/28) are accepted.
func Recover(hash [32]byte, sig []byte) ([20]byte, bool) {
	if len(sig) != SignatureLength {
		return [20]byte{}, false
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return [20]byte{}, false
	}
	pub, err := ethcrypto.SigToPub(hash[:], normalized)
	if err != nil {
		return [20]byte{}, false
	}
	var out [20]byte
	copy(out[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return out, true
}

// Verifier resolves an identity to its Signer variant. Identities with a
// registered policy are DelegatedPolicy signers, all others are RawKey.
type Verifier struct {
	mu       sync.RWMutex
	policies map[[20]byte]Policy
}

// NewVerifier returns a verifier with an empty policy registry.
func NewVerifier() *Verifier {
	return &Verifier{policies: make(map[[20]byte]Policy)}
}

// RegisterPolicy binds a policy to the supplied identity.
func (v *Verifier) RegisterPolicy(identity [20]byte, policy Policy) error {
	if policy == nil || identity == ([20]byte{}) {
		return ErrInvalidPolicy
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.policies[identity]; ok {
		return ErrPolicyExists
	}
	v.policies[identity] = policy
	return nil
}

// RemovePolicy detaches the policy bound to identity.
func (v *Verifier) RemovePolicy(identity [20]byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.policies[identity]; !ok {
		return ErrUnknownIdentity
	}
	delete(v.policies, identity)
	return nil
}

// SignerFor returns the signer variant used for identity.
func (v *Verifier) SignerFor(identity [20]byte) Signer {
	if v != nil {
		v.mu.RLock()
		policy, ok := v.policies[identity]
		v.mu.RUnlock()
		if ok {
			return DelegatedPolicy{Identity: identity, Policy: policy}
		}
	}
	return RawKey{Address: identity}
}

// Verify implements SignatureVerifier.
func (v *Verifier) Verify(signer [20]byte, hash [32]byte, sig []byte) bool {
	if signer == ([20]byte{}) {
		return false
	}
	return v.SignerFor(signer).Verify(hash, sig)
}

// MultisigPolicy accepts concatenated signatures from at least Threshold
// distinct members.
type MultisigPolicy struct {
	members   map[[20]byte]struct{}
	threshold int
}

// NewMultisigPolicy builds an M-of-N policy over raw-key members.
func NewMultisigPolicy(threshold int, members ...[20]byte) (*MultisigPolicy, error) {
	set := make(map[[20]byte]struct{}, len(members))
	for _, m := range members {
		if m == ([20]byte{}) {
			return nil, ErrInvalidPolicy
		}
		set[m] = struct{}{}
	}
	if threshold <= 0 || threshold > len(set) {
		return nil, ErrInvalidPolicy
	}
	return &MultisigPolicy{members: set, threshold: threshold}, nil
}

// IsValidSignature implements Policy.
func (p *MultisigPolicy) IsValidSignature(hash [32]byte, sig []byte) bool {
	if p == nil || len(sig) == 0 || len(sig)%SignatureLength != 0 {
		return false
	}
	seen := make(map[[20]byte]struct{})
	for offset := 0; offset < len(sig); offset += SignatureLength {
		addr, ok := Recover(hash, sig[offset:offset+SignatureLength])
		if !ok {
			return false
		}
		if _, member := p.members[addr]; !member {
			return false
		}
		seen[addr] = struct{}{}
	}
	return len(seen) >= p.threshold
}
