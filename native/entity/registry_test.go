package entity

import (
	"errors"
	"math/big"
	"testing"

	"dealchain/core/events"
	"dealchain/native/common"
)

type mockState struct {
	entities  map[[32]byte]*Entity
	snapshots []map[[32]byte]*Entity
}

func newMockState() *mockState {
	return &mockState{entities: make(map[[32]byte]*Entity)}
}

func (m *mockState) EntityGet(id [32]byte) (*Entity, bool, error) {
	ent, ok := m.entities[id]
	if !ok {
		return nil, false, nil
	}
	return ent.Clone(), true, nil
}

func (m *mockState) EntityPut(ent *Entity) error {
	m.entities[ent.ID] = ent.Clone()
	return nil
}

func (m *mockState) Snapshot() int {
	copied := make(map[[32]byte]*Entity, len(m.entities))
	for id, ent := range m.entities {
		copied[id] = ent.Clone()
	}
	m.snapshots = append(m.snapshots, copied)
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(id int) {
	m.entities = m.snapshots[id]
	m.snapshots = m.snapshots[:id]
}

type mockLedger struct {
	balances  map[[20]byte]*big.Int
	approved  int
	failPull  bool
	failSend  bool
	onPull    func()
	lastOwner [20]byte
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[[20]byte]*big.Int)}
}

func (l *mockLedger) balance(addr [20]byte) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (l *mockLedger) move(from, to [20]byte, amount *big.Int) error {
	if l.balance(from).Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	l.balances[from] = new(big.Int).Sub(l.balance(from), amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

func (l *mockLedger) Transfer(_ [20]byte, from, to [20]byte, amount *big.Int) error {
	if l.failSend {
		return errors.New("send rejected")
	}
	return l.move(from, to, amount)
}

func (l *mockLedger) TransferFrom(_ [20]byte, _ [20]byte, from, to [20]byte, amount *big.Int) error {
	if l.onPull != nil {
		l.onPull()
	}
	if l.failPull {
		return errors.New("pull rejected")
	}
	l.lastOwner = from
	return l.move(from, to, amount)
}

func (l *mockLedger) DelegatedApprove(_ [20]byte, _ [20]byte, _ [20]byte, _ *big.Int, _ int64, _ []byte) error {
	l.approved++
	return nil
}

var (
	owner    = [20]byte{0x01}
	stranger = [20]byte{0x02}
	signer   = [20]byte{0x03}
	vault    = [20]byte{0xee}
	salt     = [32]byte{0x05}
)

func newTestRegistry(t *testing.T) (*Registry, *mockState, *mockLedger, *events.Recorder) {
	t.Helper()
	st := newMockState()
	ledger := newMockLedger()
	ledger.balances[owner] = big.NewInt(10_000)
	ledger.balances[stranger] = big.NewInt(10_000)
	rec := &events.Recorder{}
	reg := NewRegistry()
	reg.SetState(st)
	reg.SetLedger(ledger)
	reg.SetVault(vault)
	reg.SetEmitter(rec)
	reg.SetNowFunc(func() int64 { return 1_700_000_000 })
	reg.SetMinDeposit(KindSupplier, big.NewInt(100))
	reg.SetMinDeposit(KindRetailer, big.NewInt(50))
	return reg, st, ledger, rec
}

func TestRegisterDerivesIDAndRejectsReuse(t *testing.T) {
	reg, _, _, rec := newTestRegistry(t)
	ent, err := reg.Register(owner, KindSupplier, salt, signer)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ent.ID != DeriveID(owner, salt) {
		t.Fatalf("unexpected id %x", ent.ID)
	}
	if ent.Enabled || ent.Deposit.Sign() != 0 {
		t.Fatalf("new entity must start disabled with no deposit")
	}
	if _, err := reg.Register(owner, KindRetailer, salt, signer); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("expected ErrEntityExists, got %v", err)
	}
	if _, err := reg.Register(stranger, KindSupplier, salt, signer); err != nil {
		t.Fatalf("same salt from another owner must succeed: %v", err)
	}
	if len(rec.Events) != 2 || rec.Events[0].EventType() != events.TypeEntityCreated {
		t.Fatalf("unexpected events %+v", rec.Events)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	if _, err := reg.Register(owner, Kind("broker"), salt, signer); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
	if _, err := reg.Register(owner, KindSupplier, salt, [20]byte{}); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("expected ErrInvalidSigner, got %v", err)
	}
}

func TestOwnerOnlyOperations(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	ent, err := reg.Register(owner, KindSupplier, salt, signer)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.ChangeSigner(stranger, ent.ID, stranger); !errors.Is(err, ErrNotEntityOwner) {
		t.Fatalf("expected ErrNotEntityOwner, got %v", err)
	}
	if _, err := reg.ToggleEntity(stranger, ent.ID); !errors.Is(err, ErrNotEntityOwner) {
		t.Fatalf("expected ErrNotEntityOwner, got %v", err)
	}
	if _, err := reg.WithdrawDeposit(stranger, ent.ID, big.NewInt(1)); !errors.Is(err, ErrNotEntityOwner) {
		t.Fatalf("expected ErrNotEntityOwner, got %v", err)
	}
	newSigner := [20]byte{0x09}
	if err := reg.ChangeSigner(owner, ent.ID, newSigner); err != nil {
		t.Fatalf("change signer: %v", err)
	}
	stored, _ := reg.Entity(ent.ID)
	if stored.Signer != newSigner {
		t.Fatalf("signer not updated")
	}
	if _, err := reg.ToggleEntity(owner, [32]byte{0xff}); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestEnablementRequiresFlagAndDeposit(t *testing.T) {
	reg, _, ledger, _ := newTestRegistry(t)
	min := big.NewInt(100)
	ent, err := reg.Register(owner, KindSupplier, salt, signer)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.AddDeposit(owner, ent.ID, min, nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if enabled, _ := reg.IsEntityEnabled(ent.ID); enabled {
		t.Fatalf("deposit alone must not enable")
	}
	if on, err := reg.ToggleEntity(owner, ent.ID); err != nil || !on {
		t.Fatalf("toggle: on=%v err=%v", on, err)
	}
	if enabled, _ := reg.IsEntityEnabled(ent.ID); !enabled {
		t.Fatalf("expected entity enabled")
	}
	if ledger.balance(vault).Cmp(min) != 0 {
		t.Fatalf("vault should hold the deposit, got %s", ledger.balance(vault))
	}

	if _, err := reg.WithdrawDeposit(owner, ent.ID, min); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	stored, _ := reg.Entity(ent.ID)
	if !stored.Enabled {
		t.Fatalf("flag must remain set after withdrawal")
	}
	if enabled, _ := reg.IsEntityEnabled(ent.ID); enabled {
		t.Fatalf("zero deposit must disable the entity")
	}
	if ledger.balance(owner).Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("owner should be made whole, got %s", ledger.balance(owner))
	}
}

func TestEnablementConjunction(t *testing.T) {
	for _, tc := range []struct {
		enabled bool
		deposit int64
		want    bool
	}{
		{false, 0, false},
		{true, 0, false},
		{false, 1, false},
		{true, 1, true},
	} {
		ent := &Entity{Enabled: tc.enabled, Deposit: big.NewInt(tc.deposit)}
		if got := ent.IsEnabled(); got != tc.want {
			t.Fatalf("enabled=%v deposit=%d: got %v want %v", tc.enabled, tc.deposit, got, tc.want)
		}
	}
}

func TestAddDepositGuards(t *testing.T) {
	reg, _, ledger, _ := newTestRegistry(t)
	ent, _ := reg.Register(owner, KindSupplier, salt, signer)

	if _, err := reg.AddDeposit(owner, ent.ID, big.NewInt(99), nil); !errors.Is(err, ErrDepositTooSmall) {
		t.Fatalf("expected ErrDepositTooSmall, got %v", err)
	}
	if _, err := reg.AddDeposit(owner, ent.ID, big.NewInt(0), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := reg.AddDeposit(owner, [32]byte{0x44}, big.NewInt(100), nil); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if _, err := reg.AddDeposit(stranger, ent.ID, big.NewInt(150), nil); err != nil {
		t.Fatalf("third-party top up: %v", err)
	}
	if ledger.lastOwner != stranger {
		t.Fatalf("funds must be pulled from the caller")
	}
	balance, err := reg.AddDeposit(owner, ent.ID, big.NewInt(1), nil)
	if err != nil {
		t.Fatalf("small top up above minimum: %v", err)
	}
	if balance.Cmp(big.NewInt(151)) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}
	if _, err := reg.WithdrawDeposit(owner, ent.ID, big.NewInt(152)); !errors.Is(err, ErrDepositNotEnough) {
		t.Fatalf("expected ErrDepositNotEnough, got %v", err)
	}
}

func TestAddDepositWithPermit(t *testing.T) {
	reg, _, ledger, _ := newTestRegistry(t)
	ent, _ := reg.Register(owner, KindRetailer, salt, signer)
	permit := &common.Permit{Deadline: 10, Signature: []byte{0x01}}
	if _, err := reg.AddDeposit(owner, ent.ID, big.NewInt(50), permit); err != nil {
		t.Fatalf("deposit with permit: %v", err)
	}
	if ledger.approved != 1 {
		t.Fatalf("expected permit to be consumed once, got %d", ledger.approved)
	}
}

func TestFailedTransferLeavesNoEffect(t *testing.T) {
	reg, _, ledger, rec := newTestRegistry(t)
	ent, _ := reg.Register(owner, KindSupplier, salt, signer)
	before := len(rec.Events)

	ledger.failPull = true
	if _, err := reg.AddDeposit(owner, ent.ID, big.NewInt(100), nil); !errors.Is(err, ErrDepositTransferFailed) {
		t.Fatalf("expected ErrDepositTransferFailed, got %v", err)
	}
	if bal, _ := reg.BalanceOf(ent.ID); bal.Sign() != 0 {
		t.Fatalf("balance must be rolled back, got %s", bal)
	}

	ledger.failPull = false
	if _, err := reg.AddDeposit(owner, ent.ID, big.NewInt(100), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ledger.failSend = true
	if _, err := reg.WithdrawDeposit(owner, ent.ID, big.NewInt(100)); !errors.Is(err, ErrDepositTransferFailed) {
		t.Fatalf("expected ErrDepositTransferFailed, got %v", err)
	}
	if bal, _ := reg.BalanceOf(ent.ID); bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("withdrawal must be rolled back, got %s", bal)
	}
	if len(rec.Events) != before+1 {
		t.Fatalf("failed operations must not emit events")
	}
}

func TestDepositWrittenBeforeLedgerCall(t *testing.T) {
	reg, _, ledger, _ := newTestRegistry(t)
	ent, _ := reg.Register(owner, KindSupplier, salt, signer)
	var observed *big.Int
	ledger.onPull = func() {
		observed, _ = reg.BalanceOf(ent.ID)
	}
	if _, err := reg.AddDeposit(owner, ent.ID, big.NewInt(100), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if observed == nil || observed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("ledger callback must observe the credited balance, got %v", observed)
	}
}
