package deal

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"dealchain/core/events"
	"dealchain/crypto"
	"dealchain/native/common"
	"dealchain/native/entity"
	"dealchain/native/fees"
	"dealchain/native/offer"
)

const (
	FundsEscrow   = "escrow"
	FundsRefund   = "refund"
	FundsPenalty  = "penalty"
	FundsProtocol = "protocol_fee"
	FundsRetailer = "retailer_fee"
	FundsSupplier = "supplier"
)

type engineState interface {
	DealGet(id [32]byte) (*Deal, bool, error)
	DealPut(*Deal) error
	Snapshot() int
	RevertToSnapshot(int)
}

type entityLookup interface {
	Entity(id [32]byte) (*entity.Entity, error)
}

// CheckInSignatures carries the voucher signatures presented at check-in.
type CheckInSignatures struct {
	Buyer    []byte
	Supplier []byte
}

// Engine runs the deal lifecycle. It holds no lock of its own: callers must
// serialise operations, and the asset ledger may re-enter the engine while a
// transfer is in flight. Every operation writes the new status before it
// moves funds and rolls back all of its writes on failure.
type Engine struct {
	state       engineState
	entities    entityLookup
	ledger      common.AssetLedger
	verifier    crypto.SignatureVerifier
	hasher      *offer.Hasher
	emitter     events.Emitter
	fees        fees.Config
	escrow      [20]byte
	claimPeriod int64
	hooks       []Hook
	nowFn       func() int64
}

// NewEngine creates a deal engine with a no-op emitter, raw-key signature
// verification and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		verifier: crypto.NewVerifier(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEntities configures the registry suppliers and retailers are resolved
// from.
func (e *Engine) SetEntities(entities entityLookup) { e.entities = entities }

// SetLedger configures the asset ledger funds are moved through.
func (e *Engine) SetLedger(ledger common.AssetLedger) { e.ledger = ledger }

// SetVerifier configures signature verification.
func (e *Engine) SetVerifier(verifier crypto.SignatureVerifier) { e.verifier = verifier }

// SetHasher configures the typed-data domain offers and vouchers are signed
// under.
func (e *Engine) SetHasher(hasher *offer.Hasher) { e.hasher = hasher }

// SetEscrowAccount configures the account custodying deal funds.
func (e *Engine) SetEscrowAccount(addr [20]byte) { e.escrow = addr }

// EscrowAccount returns the account custodying deal funds.
func (e *Engine) EscrowAccount() [20]byte { return e.escrow }

// SetClaimPeriod configures the seconds after creation during which the
// buyer cannot cancel.
func (e *Engine) SetClaimPeriod(seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	e.claimPeriod = seconds
}

// SetFees configures settlement fees.
func (e *Engine) SetFees(cfg fees.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.fees = cfg
	return nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Use appends hooks to the transition pipeline. Hooks run in registration
// order.
func (e *Engine) Use(hooks ...Hook) {
	for _, h := range hooks {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Typed) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	switch {
	case e.state == nil:
		return errNilState
	case e.ledger == nil:
		return errNilLedger
	case e.entities == nil:
		return errNilRegistry
	case e.verifier == nil || e.hasher == nil:
		return errNilVerifier
	}
	return nil
}

func (e *Engine) loadDeal(id [32]byte) (*Deal, error) {
	if e.state == nil {
		return nil, errNilState
	}
	d, ok, err := e.state.DealGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || d == nil || d.Offer.ID == ([32]byte{}) || d.Offer.ID != id {
		return nil, ErrDealNotFound
	}
	if d.Price == nil {
		d.Price = big.NewInt(0)
	}
	return d, nil
}

// loadEntity resolves a registered entity, mapping a missing record to
// notFound.
func (e *Engine) loadEntity(id [32]byte, notFound error) (*entity.Entity, error) {
	ent, err := e.entities.Entity(id)
	if errors.Is(err, entity.ErrEntityNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	return ent, nil
}

func (e *Engine) supplierOf(d *Deal) (*entity.Entity, error) {
	return e.loadEntity(d.Offer.SupplierID, ErrNotAllowedAuth)
}

func (e *Engine) requireSupplierSigner(caller [20]byte, d *Deal) (*entity.Entity, error) {
	supplier, err := e.supplierOf(d)
	if err != nil {
		return nil, err
	}
	if caller != supplier.Signer {
		return nil, ErrNotAllowedAuth
	}
	return supplier, nil
}

func requireStatus(d *Deal, allowed ...Status) error {
	for _, s := range allowed {
		if d.Status == s {
			return nil
		}
	}
	return ErrNotAllowedStatus
}

// payouts queues escrow releases made during a transition so their events
// are emitted only once the transition has committed.
type payouts struct {
	engine  *Engine
	offerID [32]byte
	asset   [20]byte
	records []events.DealFunds
}

func (p *payouts) send(kind string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := common.PayOut(p.engine.ledger, p.asset, p.engine.escrow, to, amount); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDealFundsTransferFailed, kind, err)
	}
	p.record(kind, to, amount)
	return nil
}

func (p *payouts) record(kind string, to [20]byte, amount *big.Int) {
	p.records = append(p.records, events.DealFunds{
		OfferID: p.offerID,
		Kind:    kind,
		Asset:   p.asset,
		To:      to,
		Amount:  new(big.Int).Set(amount),
	})
}

// apply runs a guarded transition: Before hooks, the status write, the fund
// movements and finally events and After hooks. Any failure reverts every
// write made since the snapshot.
func (e *Engine) apply(t *Transition, effects func(*payouts) error) error {
	for _, h := range e.hooks {
		if err := h.Before(t); err != nil {
			return err
		}
	}
	snapshot := e.state.Snapshot()
	t.Deal.Status = t.To
	if err := e.state.DealPut(t.Deal); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	out := &payouts{engine: e, offerID: t.OfferID, asset: t.Deal.Asset}
	if effects != nil {
		if err := effects(out); err != nil {
			e.state.RevertToSnapshot(snapshot)
			return err
		}
	}
	e.emit(events.DealStatus{OfferID: t.OfferID, Status: t.To.String(), Actor: t.Actor})
	for _, rec := range out.records {
		e.emit(rec)
	}
	for _, h := range e.hooks {
		h.After(t)
	}
	return nil
}

// Create turns a supplier-signed offer into an escrowed deal, pulling the
// price of the selected payment option from the buyer. A permit with a
// signature replaces the buyer's prior approval of the escrow account.
func (e *Engine) Create(buyer [20]byte, o *offer.Offer, options []offer.PaymentOption, paymentID, retailerID [32]byte, supplierSig []byte, permit *common.Permit) (*Deal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.ChainID != e.hasher.ChainID {
		return nil, fmt.Errorf("%w: chain id %d", offer.ErrInvalidOffer, o.ChainID)
	}
	supplier, err := e.loadEntity(o.SupplierID, ErrDisabledEntity)
	if err != nil {
		return nil, err
	}
	if !e.verifier.Verify(supplier.Signer, e.hasher.HashOffer(o), supplierSig) {
		return nil, ErrInvalidOfferSignature
	}
	now := e.now()
	if now > o.Expire {
		return nil, ErrOfferExpired
	}
	if !supplier.IsEnabled() || supplier.Kind != entity.KindSupplier {
		return nil, ErrDisabledEntity
	}
	if retailerID != ([32]byte{}) {
		retailer, err := e.loadEntity(retailerID, entity.ErrEntityNotFound)
		if err != nil {
			return nil, err
		}
		if !retailer.IsEnabled() || retailer.Kind != entity.KindRetailer {
			return nil, ErrDisabledEntity
		}
	}
	for _, opt := range options {
		if !opt.Valid() {
			return nil, ErrInvalidPaymentOptions
		}
	}
	if offer.HashPaymentOptions(options) != o.PaymentHash {
		return nil, ErrInvalidPaymentOptions
	}
	payment, ok := offer.FindPayment(options, paymentID)
	if !ok {
		return nil, ErrInvalidPaymentID
	}
	if _, exists, err := e.state.DealGet(o.ID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDealExists
	}

	d := &Deal{
		CreatedAt:  now,
		Offer:      *o,
		RetailerID: retailerID,
		Buyer:      buyer,
		Price:      payment.Price,
		Asset:      payment.Asset,
	}
	t := &Transition{Op: "create", OfferID: o.ID, Actor: buyer, From: StatusUninitialized, To: StatusCreated, Deal: d}
	err = e.apply(t, func(p *payouts) error {
		if err := common.PullFunds(e.ledger, d.Asset, buyer, e.escrow, d.Price, permit); err != nil {
			return fmt.Errorf("%w: %v", ErrDealFundsTransferFailed, err)
		}
		if d.Price.Sign() > 0 {
			p.record(FundsEscrow, e.escrow, d.Price)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Claim lets the supplier signer accept a freshly created deal.
func (e *Engine) Claim(caller [20]byte, offerID [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	if _, err := e.requireSupplierSigner(caller, d); err != nil {
		return err
	}
	if err := requireStatus(d, StatusCreated); err != nil {
		return err
	}
	return e.apply(&Transition{Op: "claim", OfferID: offerID, Actor: caller, From: d.Status, To: StatusClaimed, Deal: d}, nil)
}

// Reject lets the supplier signer decline a created deal, refunding the
// buyer in full.
func (e *Engine) Reject(caller [20]byte, offerID [32]byte, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	if _, err := e.requireSupplierSigner(caller, d); err != nil {
		return err
	}
	if err := requireStatus(d, StatusCreated); err != nil {
		return err
	}
	t := &Transition{Op: "reject", OfferID: offerID, Actor: caller, From: d.Status, To: StatusRejected, Deal: d, Reason: reason}
	return e.apply(t, func(p *payouts) error {
		return p.send(FundsRefund, d.Buyer, d.Price)
	})
}

// Cancel lets the buyer withdraw once the claim period has passed. Unclaimed
// deals are refunded in full; claimed deals before check-in forfeit the
// penalty selected from the committed cancellation schedule.
func (e *Engine) Cancel(caller [20]byte, offerID [32]byte, options []offer.CancelOption) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	if caller != d.Buyer {
		return ErrNotAllowedAuth
	}
	if err := requireStatus(d, StatusCreated, StatusClaimed); err != nil {
		return err
	}
	now := e.now()
	if now < d.CreatedAt+e.claimPeriod {
		return ErrNotAllowedTime
	}

	t := &Transition{Op: "cancel", OfferID: offerID, Actor: caller, From: d.Status, To: StatusCancelled, Deal: d}
	if d.Status == StatusCreated {
		return e.apply(t, func(p *payouts) error {
			return p.send(FundsRefund, d.Buyer, d.Price)
		})
	}
	if now >= d.Offer.CheckIn {
		return ErrNotAllowedStatus
	}
	if offer.HashCancelOptions(options) != d.Offer.CancelHash {
		return ErrInvalidCancelOptions
	}
	supplier, err := e.supplierOf(d)
	if err != nil {
		return err
	}
	percent := SelectPenalty(options, d.Offer.CheckIn-now)
	penalty, err := PenaltyValue(d.Price, percent)
	if err != nil {
		return err
	}
	refund := new(big.Int).Sub(d.Price, penalty)
	return e.apply(t, func(p *payouts) error {
		if err := p.send(FundsRefund, d.Buyer, refund); err != nil {
			return err
		}
		return p.send(FundsPenalty, supplier.Owner, penalty)
	})
}

// Refund lets the supplier signer return the full price to the buyer of a
// claimed or checked-in deal.
func (e *Engine) Refund(caller [20]byte, offerID [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	if _, err := e.requireSupplierSigner(caller, d); err != nil {
		return err
	}
	if err := requireStatus(d, StatusClaimed, StatusCheckedIn); err != nil {
		return err
	}
	t := &Transition{Op: "refund", OfferID: offerID, Actor: caller, From: d.Status, To: StatusRefunded, Deal: d}
	return e.apply(t, func(p *payouts) error {
		return p.send(FundsRefund, d.Buyer, d.Price)
	})
}

// CheckIn marks the start of service. The supplier signer may check in alone
// from the offer's check-in time and needs the buyer's voucher signature
// before it; the buyer always needs the supplier's voucher signature.
func (e *Engine) CheckIn(caller [20]byte, offerID [32]byte, sigs CheckInSignatures) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	supplier, err := e.supplierOf(d)
	if err != nil {
		return err
	}
	bySupplier := caller == supplier.Signer
	if !bySupplier && caller != d.Buyer {
		return ErrNotAllowedAuth
	}
	if err := requireStatus(d, StatusClaimed); err != nil {
		return err
	}
	voucher := e.hasher.CheckInVoucher(offerID)
	if !e.verifier.Verify(supplier.Signer, voucher, sigs.Supplier) {
		return ErrInvalidOfferSignature
	}
	if !bySupplier || e.now() < d.Offer.CheckIn {
		if !e.verifier.Verify(d.Buyer, voucher, sigs.Buyer) {
			return ErrInvalidOfferSignature
		}
	}
	return e.apply(&Transition{Op: "check_in", OfferID: offerID, Actor: caller, From: d.Status, To: StatusCheckedIn, Deal: d}, nil)
}

// CheckOut settles a checked-in deal once the offer's check-out time has
// passed, paying the protocol fee, the retailer fee when a retailer referred
// the deal and the supplier remainder.
func (e *Engine) CheckOut(caller [20]byte, offerID [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	supplier, err := e.requireSupplierSigner(caller, d)
	if err != nil {
		return err
	}
	if err := requireStatus(d, StatusCheckedIn); err != nil {
		return err
	}
	if e.now() < d.Offer.CheckOut {
		return ErrNotAllowedTime
	}
	split, err := e.fees.Split(d.Price, d.HasRetailer())
	if err != nil {
		return err
	}
	var retailerOwner [20]byte
	if d.HasRetailer() {
		retailer, err := e.loadEntity(d.RetailerID, ErrDisabledEntity)
		if err != nil {
			return err
		}
		retailerOwner = retailer.Owner
	}
	t := &Transition{Op: "check_out", OfferID: offerID, Actor: caller, From: d.Status, To: StatusCheckedOut, Deal: d}
	return e.apply(t, func(p *payouts) error {
		if err := p.send(FundsProtocol, e.fees.Recipient, split.ProtocolFee); err != nil {
			return err
		}
		if err := p.send(FundsRetailer, retailerOwner, split.RetailerFee); err != nil {
			return err
		}
		return p.send(FundsSupplier, supplier.Owner, split.SupplierValue)
	})
}

// Dispute freezes a checked-in deal at the request of the buyer or the
// supplier signer. Funds stay in escrow.
func (e *Engine) Dispute(caller [20]byte, offerID [32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	d, err := e.loadDeal(offerID)
	if err != nil {
		return err
	}
	supplier, err := e.supplierOf(d)
	if err != nil {
		return err
	}
	if caller != d.Buyer && caller != supplier.Signer {
		return ErrNotAllowedAuth
	}
	if err := requireStatus(d, StatusCheckedIn); err != nil {
		return err
	}
	return e.apply(&Transition{Op: "dispute", OfferID: offerID, Actor: caller, From: d.Status, To: StatusDisputed, Deal: d}, nil)
}

// Deal returns a copy of the stored deal.
func (e *Engine) Deal(offerID [32]byte) (*Deal, error) {
	d, err := e.loadDeal(offerID)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}
