package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected on-disk schema layout. Increment it
// and append a migration whenever the stored structure changes.
const StateVersion uint32 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

type migration struct {
	to    uint32
	name  string
	apply func(*Manager) error
}

// migrations run in order; each moves the schema from to-1 to to.
var migrations = []migration{
	{to: 1, name: "genesis", apply: func(*Manager) error { return nil }},
}

// SetStateVersion records the provided schema version in state. Callers should
// invoke this after performing any required migrations.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.put(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (m *Manager) StateVersion() (uint32, bool, error) {
	if m == nil {
		return 0, false, fmt.Errorf("state: manager unavailable")
	}
	var stored uint64
	ok, err := m.load(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the on-disk state version matches the
// version supported by this binary. When allowMigrate is true, mismatches are
// tolerated so that Migrate can bring the schema forward.
func EnsureStateVersion(m *Manager, allowMigrate bool) error {
	version, _, err := m.StateVersion()
	if err != nil {
		return err
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}

// Migrate applies every pending migration, stamps the new version and
// commits. It returns the versions it moved between.
func (m *Manager) Migrate() (from, to uint32, err error) {
	from, _, err = m.StateVersion()
	if err != nil {
		return 0, 0, err
	}
	if from > StateVersion {
		return from, from, fmt.Errorf("%w: on-disk=%d is newer than %d", ErrStateVersionMismatch, from, StateVersion)
	}
	to = from
	for _, mig := range migrations {
		if mig.to <= to {
			continue
		}
		if err := mig.apply(m); err != nil {
			m.Discard()
			return from, from, fmt.Errorf("state: migration %d (%s): %w", mig.to, mig.name, err)
		}
		if err := m.SetStateVersion(mig.to); err != nil {
			m.Discard()
			return from, from, err
		}
		to = mig.to
	}
	if err := m.Commit(); err != nil {
		return from, from, err
	}
	return from, to, nil
}
