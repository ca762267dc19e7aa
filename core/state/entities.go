package state

import (
	"fmt"
	"math/big"

	"dealchain/native/entity"
)

type storedEntity struct {
	ID      [32]byte
	Kind    string
	Owner   [20]byte
	Signer  [20]byte
	Enabled bool
	Deposit *big.Int
}

func newStoredEntity(e *entity.Entity) *storedEntity {
	deposit := big.NewInt(0)
	if e.Deposit != nil {
		deposit = new(big.Int).Set(e.Deposit)
	}
	return &storedEntity{
		ID:      e.ID,
		Kind:    string(e.Kind),
		Owner:   e.Owner,
		Signer:  e.Signer,
		Enabled: e.Enabled,
		Deposit: deposit,
	}
}

func (s *storedEntity) toEntity() *entity.Entity {
	deposit := big.NewInt(0)
	if s.Deposit != nil {
		deposit = new(big.Int).Set(s.Deposit)
	}
	return &entity.Entity{
		ID:      s.ID,
		Kind:    entity.Kind(s.Kind),
		Owner:   s.Owner,
		Signer:  s.Signer,
		Enabled: s.Enabled,
		Deposit: deposit,
	}
}

// EntityPut stores the entity under its identifier.
func (m *Manager) EntityPut(e *entity.Entity) error {
	if e == nil {
		return fmt.Errorf("entity: nil record")
	}
	if e.ID == ([32]byte{}) {
		return fmt.Errorf("entity: id must not be zero")
	}
	if e.Deposit != nil && e.Deposit.Sign() < 0 {
		return fmt.Errorf("entity: negative deposit")
	}
	return m.put(entityKey(e.ID), newStoredEntity(e))
}

// EntityGet retrieves the entity stored under id. The boolean reports whether
// a record exists.
func (m *Manager) EntityGet(id [32]byte) (*entity.Entity, bool, error) {
	var stored storedEntity
	ok, err := m.load(entityKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toEntity(), true, nil
}
