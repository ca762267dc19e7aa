package state

import (
	"fmt"
	"math/big"

	"dealchain/native/deal"
	"dealchain/native/offer"
)

type storedOffer struct {
	ID           [32]byte
	Expire       uint64
	SupplierID   [32]byte
	ChainID      uint64
	RequestHash  [32]byte
	OptionsHash  [32]byte
	PaymentHash  [32]byte
	CancelHash   [32]byte
	Transferable bool
	CheckIn      uint64
	CheckOut     uint64
}

type storedDeal struct {
	CreatedAt  uint64
	Offer      storedOffer
	RetailerID [32]byte
	Buyer      [20]byte
	Price      *big.Int
	Asset      [20]byte
	Status     uint8
}

func newStoredDeal(d *deal.Deal) (*storedDeal, error) {
	o := d.Offer
	stored := &storedDeal{
		Offer: storedOffer{
			ID:           o.ID,
			SupplierID:   o.SupplierID,
			RequestHash:  o.RequestHash,
			OptionsHash:  o.OptionsHash,
			PaymentHash:  o.PaymentHash,
			CancelHash:   o.CancelHash,
			Transferable: o.Transferable,
		},
		RetailerID: d.RetailerID,
		Buyer:      d.Buyer,
		Asset:      d.Asset,
		Status:     uint8(d.Status),
		Price:      big.NewInt(0),
	}
	times := []struct {
		name string
		v    int64
		out  *uint64
	}{
		{"createdAt", d.CreatedAt, &stored.CreatedAt},
		{"expire", o.Expire, &stored.Offer.Expire},
		{"chainId", o.ChainID, &stored.Offer.ChainID},
		{"checkIn", o.CheckIn, &stored.Offer.CheckIn},
		{"checkOut", o.CheckOut, &stored.Offer.CheckOut},
	}
	for _, field := range times {
		if field.v < 0 {
			return nil, fmt.Errorf("deal: %s must not be negative", field.name)
		}
		*field.out = uint64(field.v)
	}
	if d.Price != nil {
		if d.Price.Sign() < 0 {
			return nil, fmt.Errorf("deal: negative price")
		}
		stored.Price = new(big.Int).Set(d.Price)
	}
	return stored, nil
}

func (s *storedDeal) toDeal() *deal.Deal {
	price := big.NewInt(0)
	if s.Price != nil {
		price = new(big.Int).Set(s.Price)
	}
	return &deal.Deal{
		CreatedAt: int64(s.CreatedAt),
		Offer: offer.Offer{
			ID:           s.Offer.ID,
			Expire:       int64(s.Offer.Expire),
			SupplierID:   s.Offer.SupplierID,
			ChainID:      int64(s.Offer.ChainID),
			RequestHash:  s.Offer.RequestHash,
			OptionsHash:  s.Offer.OptionsHash,
			PaymentHash:  s.Offer.PaymentHash,
			CancelHash:   s.Offer.CancelHash,
			Transferable: s.Offer.Transferable,
			CheckIn:      int64(s.Offer.CheckIn),
			CheckOut:     int64(s.Offer.CheckOut),
		},
		RetailerID: s.RetailerID,
		Buyer:      s.Buyer,
		Price:      price,
		Asset:      s.Asset,
		Status:     deal.Status(s.Status),
	}
}

// DealPut stores the deal keyed by its offer identifier.
func (m *Manager) DealPut(d *deal.Deal) error {
	if d == nil {
		return fmt.Errorf("deal: nil record")
	}
	if d.Offer.ID == ([32]byte{}) {
		return fmt.Errorf("deal: offer id must not be zero")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("deal: invalid status %d", d.Status)
	}
	stored, err := newStoredDeal(d)
	if err != nil {
		return err
	}
	return m.put(dealKey(d.Offer.ID), stored)
}

// DealGet retrieves the deal created from the offer with the given id.
func (m *Manager) DealGet(id [32]byte) (*deal.Deal, bool, error) {
	var stored storedDeal
	ok, err := m.load(dealKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toDeal(), true, nil
}
