package state

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"dealchain/crypto"
	"dealchain/native/offer"
	"dealchain/storage"
)

var (
	testAsset   = [20]byte{0xa1}
	testSpender = [20]byte{0xee}
)

func newTestLedger(t *testing.T) (*Ledger, *Manager, *offer.Hasher) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	mgr := NewManager(db)
	hasher := offer.NewHasher(1, testSpender)
	ledger := NewLedger(mgr, crypto.NewVerifier(), hasher)
	ledger.SetNowFunc(func() int64 { return 1_000 })
	return ledger, mgr, hasher
}

func mustBalance(t *testing.T, l *Ledger, holder [20]byte, want int64) {
	t.Helper()
	got, err := l.BalanceOf(testAsset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("balance of %x = %s, want %d", holder, got, want)
	}
}

func TestLedgerTransfer(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	alice, bob := [20]byte{0x01}, [20]byte{0x02}
	if err := ledger.Mint(testAsset, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(testAsset, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mustBalance(t, ledger, alice, 60)
	mustBalance(t, ledger, bob, 40)
	if err := ledger.Transfer(testAsset, alice, bob, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(testAsset, alice, bob, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	other, _ := ledger.BalanceOf([20]byte{0xa2}, alice)
	if other.Sign() != 0 {
		t.Fatalf("assets must not share balances")
	}
}

func TestLedgerOverflow(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	holder := [20]byte{0x01}
	if err := ledger.Mint(testAsset, holder, limit); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := ledger.Mint(testAsset, holder, big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestLedgerTransferFromConsumesAllowance(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	owner, dest := [20]byte{0x01}, [20]byte{0x02}
	if err := ledger.Mint(testAsset, owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(testAsset, testSpender, owner, dest, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := ledger.Approve(testAsset, owner, testSpender, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(testAsset, testSpender, owner, dest, big.NewInt(30)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	allowance, _ := ledger.Allowance(testAsset, owner, testSpender)
	if allowance.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("allowance = %s, want 20", allowance)
	}
	mustBalance(t, ledger, dest, 30)
}

func TestLedgerFailedTransferFromLeavesAllowance(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	owner, dest := [20]byte{0x01}, [20]byte{0x02}
	if err := ledger.Approve(testAsset, owner, testSpender, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(testAsset, testSpender, owner, dest, big.NewInt(30)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	allowance, _ := ledger.Allowance(testAsset, owner, testSpender)
	if allowance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("allowance must be restored, got %s", allowance)
	}
}

func TestDelegatedApprove(t *testing.T) {
	ledger, _, hasher := newTestLedger(t)
	key, err := crypto.PrivateKeyFromBytes(bytes.Repeat([]byte{0x21}, 32))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	owner := key.PubKey().Address().Array()
	amount := big.NewInt(75)
	deadline := int64(2_000)

	sign := func(nonce uint64) []byte {
		sig, err := key.Sign(hasher.PermitDigest(testAsset, owner, testSpender, amount, nonce, deadline))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return sig
	}
	sig := sign(0)
	if err := ledger.DelegatedApprove(testAsset, owner, testSpender, big.NewInt(76), deadline, sig); !errors.Is(err, ErrInvalidPermit) {
		t.Fatalf("expected ErrInvalidPermit for altered amount, got %v", err)
	}
	if err := ledger.DelegatedApprove(testAsset, owner, testSpender, amount, deadline, sig); err != nil {
		t.Fatalf("permit: %v", err)
	}
	allowance, _ := ledger.Allowance(testAsset, owner, testSpender)
	if allowance.Cmp(amount) != 0 {
		t.Fatalf("allowance = %s, want %s", allowance, amount)
	}
	if nonce, _ := ledger.Nonce(testAsset, owner); nonce != 1 {
		t.Fatalf("nonce = %d, want 1", nonce)
	}
	if err := ledger.DelegatedApprove(testAsset, owner, testSpender, amount, deadline, sig); !errors.Is(err, ErrInvalidPermit) {
		t.Fatalf("replayed permit must fail, got %v", err)
	}

	ledger.SetNowFunc(func() int64 { return deadline + 1 })
	if err := ledger.DelegatedApprove(testAsset, owner, testSpender, amount, deadline, sign(1)); !errors.Is(err, ErrPermitExpired) {
		t.Fatalf("expected ErrPermitExpired, got %v", err)
	}
}

func TestLedgerMovesRevertWithSnapshot(t *testing.T) {
	ledger, mgr, _ := newTestLedger(t)
	alice, bob := [20]byte{0x01}, [20]byte{0x02}
	if err := ledger.Mint(testAsset, alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	snap := mgr.Snapshot()
	if err := ledger.Transfer(testAsset, alice, bob, big.NewInt(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mgr.RevertToSnapshot(snap)
	mustBalance(t, ledger, alice, 10)
	mustBalance(t, ledger, bob, 0)
}

func TestLedgerMintTracksSupply(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	alice, bob := [20]byte{0x01}, [20]byte{0x02}
	if err := ledger.Mint(testAsset, alice, big.NewInt(70)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Mint(testAsset, bob, big.NewInt(30)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(testAsset, alice, bob, big.NewInt(20)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	supply, err := ledger.TotalSupply(testAsset)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply = %s, want 100", supply)
	}
	other, err := ledger.TotalSupply([20]byte{0xa2})
	if err != nil || other.Sign() != 0 {
		t.Fatalf("unexpected supply for unminted asset: %v %v", other, err)
	}
}
