package entity

import (
	"fmt"
	"math/big"
	"time"

	"dealchain/core/events"
	"dealchain/native/common"
)

type registryState interface {
	EntityGet(id [32]byte) (*Entity, bool, error)
	EntityPut(*Entity) error
	Snapshot() int
	RevertToSnapshot(int)
}

// Registry manages supplier and retailer registrations together with the
// collateral deposits that gate their participation in deals.
type Registry struct {
	state        registryState
	ledger       common.AssetLedger
	emitter      events.Emitter
	depositAsset [20]byte
	vault        [20]byte
	minDeposits  map[Kind]*big.Int
	nowFn        func() int64
}

// NewRegistry returns a registry with a no-op emitter and the wall clock.
func NewRegistry() *Registry {
	return &Registry{
		emitter:     events.NoopEmitter{},
		minDeposits: make(map[Kind]*big.Int),
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetLedger configures the asset ledger deposits are moved through.
func (r *Registry) SetLedger(ledger common.AssetLedger) { r.ledger = ledger }

// SetDepositAsset configures the asset deposits are denominated in.
func (r *Registry) SetDepositAsset(asset [20]byte) { r.depositAsset = asset }

// SetVault configures the account that custodies deposits.
func (r *Registry) SetVault(vault [20]byte) { r.vault = vault }

// Vault returns the deposit custody account.
func (r *Registry) Vault() [20]byte { return r.vault }

// SetMinDeposit configures the minimum deposit for a kind. Kinds without a
// configured minimum cannot be registered. A nil amount removes the kind.
func (r *Registry) SetMinDeposit(kind Kind, amount *big.Int) {
	if amount == nil {
		delete(r.minDeposits, kind)
		return
	}
	r.minDeposits[kind] = new(big.Int).Set(amount)
}

// MinDeposit returns the configured minimum for kind.
func (r *Registry) MinDeposit(kind Kind) (*big.Int, bool) {
	min, ok := r.minDeposits[kind]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(min), true
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) now() int64 {
	if r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) emit(evt events.Typed) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

func (r *Registry) load(id [32]byte) (*Entity, error) {
	if r.state == nil {
		return nil, errNilState
	}
	ent, ok, err := r.state.EntityGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || ent == nil || ent.ID != id {
		return nil, ErrEntityNotFound
	}
	if ent.Deposit == nil {
		ent.Deposit = big.NewInt(0)
	}
	return ent, nil
}

func (r *Registry) loadOwned(caller [20]byte, id [32]byte) (*Entity, error) {
	ent, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if ent.Owner != caller {
		return nil, ErrNotEntityOwner
	}
	return ent, nil
}

// Register records a new entity owned by caller. The identifier is derived
// from the caller and salt so the same pair can only be registered once. New
// entities start disabled with an empty deposit.
func (r *Registry) Register(caller [20]byte, kind Kind, salt [32]byte, signer [20]byte) (*Entity, error) {
	if r.state == nil {
		return nil, errNilState
	}
	if signer == ([20]byte{}) {
		return nil, ErrInvalidSigner
	}
	if _, ok := r.minDeposits[kind]; !ok {
		return nil, ErrInvalidKind
	}
	id := DeriveID(caller, salt)
	_, exists, err := r.state.EntityGet(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEntityExists
	}
	ent := &Entity{
		ID:      id,
		Kind:    kind,
		Owner:   caller,
		Signer:  signer,
		Deposit: big.NewInt(0),
	}
	if err := r.state.EntityPut(ent); err != nil {
		return nil, err
	}
	r.emit(events.EntityRegistered{ID: id, Kind: string(kind), Owner: caller, Signer: signer})
	return ent.Clone(), nil
}

// ChangeSigner replaces the signer authorised to act for the entity.
func (r *Registry) ChangeSigner(caller [20]byte, id [32]byte, signer [20]byte) error {
	if signer == ([20]byte{}) {
		return ErrInvalidSigner
	}
	ent, err := r.loadOwned(caller, id)
	if err != nil {
		return err
	}
	ent.Signer = signer
	if err := r.state.EntityPut(ent); err != nil {
		return err
	}
	r.emit(events.EntityUpdated{ID: id, Signer: ent.Signer, Enabled: ent.Enabled})
	return nil
}

// ToggleEntity flips the owner-controlled enabled flag and returns its new
// value.
func (r *Registry) ToggleEntity(caller [20]byte, id [32]byte) (bool, error) {
	ent, err := r.loadOwned(caller, id)
	if err != nil {
		return false, err
	}
	ent.Enabled = !ent.Enabled
	if err := r.state.EntityPut(ent); err != nil {
		return false, err
	}
	r.emit(events.EntityUpdated{ID: id, Signer: ent.Signer, Enabled: ent.Enabled})
	return ent.Enabled, nil
}

// AddDeposit pulls value of the deposit asset from caller into the vault and
// credits it to the entity. When permit carries a signature it is consumed
// as a one-step approval before the pull.
func (r *Registry) AddDeposit(caller [20]byte, id [32]byte, value *big.Int, permit *common.Permit) (*big.Int, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	ent, err := r.load(id)
	if err != nil {
		return nil, err
	}
	if r.ledger == nil {
		return nil, errNilLedger
	}
	min, ok := r.minDeposits[ent.Kind]
	if !ok {
		return nil, ErrInvalidKind
	}
	balance := new(big.Int).Add(ent.Deposit, value)
	if balance.Cmp(min) < 0 {
		return nil, ErrDepositTooSmall
	}

	snapshot := r.state.Snapshot()
	ent.Deposit = balance
	if err := r.state.EntityPut(ent); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	if err := common.PullFunds(r.ledger, r.depositAsset, caller, r.vault, value, permit); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, fmt.Errorf("%w: %v", ErrDepositTransferFailed, err)
	}
	r.emit(events.DepositChanged{ID: id, Delta: new(big.Int).Set(value), Balance: new(big.Int).Set(balance), At: r.now()})
	return new(big.Int).Set(balance), nil
}

// WithdrawDeposit returns value of the entity's deposit to its owner.
// Withdrawing the full balance leaves the entity effectively disabled.
func (r *Registry) WithdrawDeposit(caller [20]byte, id [32]byte, value *big.Int) (*big.Int, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	ent, err := r.loadOwned(caller, id)
	if err != nil {
		return nil, err
	}
	if r.ledger == nil {
		return nil, errNilLedger
	}
	if value.Cmp(ent.Deposit) > 0 {
		return nil, ErrDepositNotEnough
	}

	snapshot := r.state.Snapshot()
	balance := new(big.Int).Sub(ent.Deposit, value)
	ent.Deposit = balance
	if err := r.state.EntityPut(ent); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	if err := common.PayOut(r.ledger, r.depositAsset, r.vault, ent.Owner, value); err != nil {
		r.state.RevertToSnapshot(snapshot)
		return nil, fmt.Errorf("%w: %v", ErrDepositTransferFailed, err)
	}
	r.emit(events.DepositChanged{ID: id, Delta: new(big.Int).Neg(value), Balance: new(big.Int).Set(balance), At: r.now()})
	return new(big.Int).Set(balance), nil
}

// IsEntityEnabled reports whether the entity has its flag set and holds a
// positive deposit.
func (r *Registry) IsEntityEnabled(id [32]byte) (bool, error) {
	ent, err := r.load(id)
	if err != nil {
		return false, err
	}
	return ent.IsEnabled(), nil
}

// BalanceOf returns the entity's deposit balance.
func (r *Registry) BalanceOf(id [32]byte) (*big.Int, error) {
	ent, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(ent.Deposit), nil
}

// Entity returns a copy of the stored entity.
func (r *Registry) Entity(id [32]byte) (*Entity, error) {
	ent, err := r.load(id)
	if err != nil {
		return nil, err
	}
	return ent.Clone(), nil
}
