// Package bfrt holds the per-unit pipeline objects that sit on top of
// the vendor driver: the ID mapper, the table manager and the node that
// ties them to the device manager.
//
// Dependencies are constructor arguments. NewTableManager takes the
// *IDMapper and NewNode takes both, so a node cannot exist before the
// objects it depends on.
package bfrt

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultUnit is the single ASIC unit this agent manages. The SDE
// expects 0-based device ids, so the unit is used where the SDE asks for
// a device; the node id seen by clients is mapped to it by the chassis
// layer.
const DefaultUnit = 0

var (
	// ErrUnknownID is returned when an id has no mapping.
	ErrUnknownID = errors.New("unknown id")
	// ErrIDConflict is returned when an id is already mapped elsewhere.
	ErrIDConflict = errors.New("id already mapped")
)

// IDMapper translates between P4Runtime ids and vendor (BfRt) ids for
// one unit.
type IDMapper struct {
	unit int

	mu       sync.RWMutex
	toVendor map[uint32]uint32
	toP4     map[uint32]uint32
}

// NewIDMapper creates an empty mapper for unit.
func NewIDMapper(unit int) *IDMapper {
	return &IDMapper{
		unit:     unit,
		toVendor: make(map[uint32]uint32),
		toP4:     make(map[uint32]uint32),
	}
}

// Unit returns the unit the mapper belongs to.
func (m *IDMapper) Unit() int { return m.unit }

// Register maps p4ID to vendorID. Re-registering the same pair is a
// no-op; mapping either side to a different id is ErrIDConflict.
func (m *IDMapper) Register(p4ID, vendorID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.toVendor[p4ID]; ok && v != vendorID {
		return fmt.Errorf("p4 id %#x -> %#x: %w (currently %#x)", p4ID, vendorID, ErrIDConflict, v)
	}
	if p, ok := m.toP4[vendorID]; ok && p != p4ID {
		return fmt.Errorf("vendor id %#x -> %#x: %w (currently %#x)", vendorID, p4ID, ErrIDConflict, p)
	}
	m.toVendor[p4ID] = vendorID
	m.toP4[vendorID] = p4ID
	return nil
}

// VendorID returns the vendor id for p4ID.
func (m *IDMapper) VendorID(p4ID uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.toVendor[p4ID]
	if !ok {
		return 0, fmt.Errorf("p4 id %#x on unit %d: %w", p4ID, m.unit, ErrUnknownID)
	}
	return v, nil
}

// P4ID returns the P4Runtime id for vendorID.
func (m *IDMapper) P4ID(vendorID uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.toP4[vendorID]
	if !ok {
		return 0, fmt.Errorf("vendor id %#x on unit %d: %w", vendorID, m.unit, ErrUnknownID)
	}
	return p, nil
}

// Len returns the number of mappings.
func (m *IDMapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toVendor)
}

// Reset drops every mapping. Called when a new pipeline replaces the
// old one.
func (m *IDMapper) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toVendor = make(map[uint32]uint32)
	m.toP4 = make(map[uint32]uint32)
}

// replace swaps in the mappings of other.
func (m *IDMapper) replace(other *IDMapper) {
	other.mu.RLock()
	toVendor, toP4 := other.toVendor, other.toP4
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.toVendor = toVendor
	m.toP4 = toP4
}
