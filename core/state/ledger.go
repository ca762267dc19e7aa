package state

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"dealchain/crypto"
	"dealchain/native/offer"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrPermitExpired         = errors.New("ledger: permit expired")
	ErrInvalidPermit         = errors.New("ledger: invalid permit signature")
	ErrBalanceOverflow       = errors.New("ledger: balance exceeds 256 bits")
	ErrInvalidAmount         = errors.New("ledger: amount must not be negative")
)

// Ledger is the built-in fungible asset ledger. Balances, allowances and
// permit nonces live in the manager's overlay, so ledger movements are rolled
// back together with the deal or entity write that triggered them.
type Ledger struct {
	manager  *Manager
	verifier crypto.SignatureVerifier
	hasher   *offer.Hasher
	nowFn    func() int64
}

// NewLedger binds a ledger to the manager. Permits are checked with verifier
// against digests produced by hasher.
func NewLedger(manager *Manager, verifier crypto.SignatureVerifier, hasher *offer.Hasher) *Ledger {
	return &Ledger{
		manager:  manager,
		verifier: verifier,
		hasher:   hasher,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used for permit deadlines.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) readBig(key []byte) (*big.Int, error) {
	if l == nil || l.manager == nil {
		return nil, fmt.Errorf("ledger: manager unavailable")
	}
	value := new(big.Int)
	ok, err := l.manager.load(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *Ledger) writeBig(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		l.manager.remove(key)
		return nil
	}
	return l.manager.put(key, value)
}

// BalanceOf returns the holder's balance of asset.
func (l *Ledger) BalanceOf(asset, holder [20]byte) (*big.Int, error) {
	return l.readBig(balanceKey(asset, holder))
}

// Allowance returns how much of owner's asset spender may pull.
func (l *Ledger) Allowance(asset, owner, spender [20]byte) (*big.Int, error) {
	return l.readBig(allowanceKey(asset, owner, spender))
}

// Nonce returns the next permit nonce of owner for asset.
func (l *Ledger) Nonce(asset, owner [20]byte) (uint64, error) {
	if l == nil || l.manager == nil {
		return 0, fmt.Errorf("ledger: manager unavailable")
	}
	var nonce uint64
	if _, err := l.manager.load(nonceKey(asset, owner), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (l *Ledger) credit(asset, holder [20]byte, amount *big.Int) error {
	balance, err := l.BalanceOf(asset, holder)
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	if _, overflow := uint256.FromBig(balance); overflow {
		return ErrBalanceOverflow
	}
	return l.writeBig(balanceKey(asset, holder), balance)
}

func (l *Ledger) debit(asset, holder [20]byte, amount *big.Int) error {
	balance, err := l.BalanceOf(asset, holder)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return l.writeBig(balanceKey(asset, holder), balance.Sub(balance, amount))
}

// TotalSupply returns how much of asset has been minted.
func (l *Ledger) TotalSupply(asset [20]byte) (*big.Int, error) {
	return l.readBig(supplyKey(asset))
}

// Mint credits newly issued asset to holder and grows its total supply.
func (l *Ledger) Mint(asset, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	supply, err := l.TotalSupply(asset)
	if err != nil {
		return err
	}
	supply.Add(supply, amount)
	if _, overflow := uint256.FromBig(supply); overflow {
		return ErrBalanceOverflow
	}
	snapshot := l.manager.Snapshot()
	if err := l.credit(asset, to, amount); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	if err := l.writeBig(supplyKey(asset), supply); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

// Transfer moves amount of asset from one holder to another.
func (l *Ledger) Transfer(asset, from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	snapshot := l.manager.Snapshot()
	if err := l.debit(asset, from, amount); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	if err := l.credit(asset, to, amount); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

// Approve sets the amount spender may pull from owner.
func (l *Ledger) Approve(asset, owner, spender [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrBalanceOverflow
	}
	return l.writeBig(allowanceKey(asset, owner, spender), new(big.Int).Set(amount))
}

// TransferFrom moves amount from one holder to another on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(asset, spender, from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowance, err := l.Allowance(asset, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
	}
	snapshot := l.manager.Snapshot()
	if err := l.writeBig(allowanceKey(asset, from, spender), allowance.Sub(allowance, amount)); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	if err := l.Transfer(asset, from, to, amount); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

// DelegatedApprove sets spender's allowance from a permit signed by owner.
// The permit binds the current nonce, which is consumed on success.
func (l *Ledger) DelegatedApprove(asset, owner, spender [20]byte, amount *big.Int, deadline int64, sig []byte) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if l.verifier == nil || l.hasher == nil {
		return ErrInvalidPermit
	}
	if l.nowFn() > deadline {
		return ErrPermitExpired
	}
	nonce, err := l.Nonce(asset, owner)
	if err != nil {
		return err
	}
	digest := l.hasher.PermitDigest(asset, owner, spender, amount, nonce, deadline)
	if !l.verifier.Verify(owner, digest, sig) {
		return ErrInvalidPermit
	}
	snapshot := l.manager.Snapshot()
	if err := l.manager.put(nonceKey(asset, owner), nonce+1); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	if err := l.Approve(asset, owner, spender, amount); err != nil {
		l.manager.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}
