package bfrt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrEntryExists   = errors.New("table entry already exists")
	ErrEntryNotFound = errors.New("table entry not found")
)

// UpdateType is the kind of table write.
type UpdateType int

const (
	UpdateInsert UpdateType = iota
	UpdateModify
	UpdateDelete
)

func (u UpdateType) String() string {
	switch u {
	case UpdateInsert:
		return "INSERT"
	case UpdateModify:
		return "MODIFY"
	case UpdateDelete:
		return "DELETE"
	}
	return fmt.Sprintf("UpdateType(%d)", int(u))
}

// TableEntry is a table entry addressed by its P4Runtime table id.
type TableEntry struct {
	TableID uint32
	// Key is the canonical encoding of the match fields.
	Key    string
	Action string
	Params [][]byte
}

// TableManager keeps the table state of one unit. Entries are stored
// under vendor table ids, translated through the ID mapper it was
// constructed with.
type TableManager struct {
	unit int
	ids  *IDMapper

	mu      sync.RWMutex
	entries map[uint32]map[string]TableEntry
}

// NewTableManager creates the table manager for unit. ids must be the
// unit's ID mapper; a nil mapper panics.
func NewTableManager(unit int, ids *IDMapper) *TableManager {
	if ids == nil {
		panic("bfrt: NewTableManager requires an ID mapper")
	}
	return &TableManager{
		unit:    unit,
		ids:     ids,
		entries: make(map[uint32]map[string]TableEntry),
	}
}

// Unit returns the unit.
func (tm *TableManager) Unit() int { return tm.unit }

// IDMapper returns the mapper the manager translates through.
func (tm *TableManager) IDMapper() *IDMapper { return tm.ids }

// WriteEntry applies one update.
func (tm *TableManager) WriteEntry(ctx context.Context, update UpdateType, e TableEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vendorID, err := tm.ids.VendorID(e.TableID)
	if err != nil {
		return fmt.Errorf("%s table entry: %w", update, err)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	table := tm.entries[vendorID]
	_, exists := table[e.Key]

	switch update {
	case UpdateInsert:
		if exists {
			return fmt.Errorf("table %#x key %q: %w", e.TableID, e.Key, ErrEntryExists)
		}
		if table == nil {
			table = make(map[string]TableEntry)
			tm.entries[vendorID] = table
		}
		table[e.Key] = e
	case UpdateModify:
		if !exists {
			return fmt.Errorf("table %#x key %q: %w", e.TableID, e.Key, ErrEntryNotFound)
		}
		table[e.Key] = e
	case UpdateDelete:
		if !exists {
			return fmt.Errorf("table %#x key %q: %w", e.TableID, e.Key, ErrEntryNotFound)
		}
		delete(table, e.Key)
	default:
		return fmt.Errorf("unsupported update type %s", update)
	}
	return nil
}

// ReadEntries returns the entries of a table sorted by key.
func (tm *TableManager) ReadEntries(ctx context.Context, tableID uint32) ([]TableEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vendorID, err := tm.ids.VendorID(tableID)
	if err != nil {
		return nil, err
	}

	tm.mu.RLock()
	defer tm.mu.RUnlock()

	table := tm.entries[vendorID]
	out := make([]TableEntry, 0, len(table))
	for _, e := range table {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear drops all entries.
func (tm *TableManager) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.entries = make(map[uint32]map[string]TableEntry)
}
