package bfrt

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DeviceManager is the vendor's process-wide device manager. One
// instance exists per process; it is owned by the vendor driver and
// shared by every node.
type DeviceManager interface {
	// LoadPipeline programs a compiled pipeline on unit and returns the
	// vendor table ids keyed by table name.
	LoadPipeline(ctx context.Context, unit int, p PipelineConfig) (map[string]uint32, error)
	// UnloadPipeline removes the pipeline from unit.
	UnloadPipeline(ctx context.Context, unit int) error
}

// TableInfo names a P4 table and its P4Runtime id.
type TableInfo struct {
	Name string
	P4ID uint32
}

// PipelineConfig is a compiled forwarding pipeline.
type PipelineConfig struct {
	Name   string
	Tables []TableInfo
	// Binary is the compiled device image.
	Binary []byte
	// Context is the compiler's context.json.
	Context []byte
	// Info is the compiler's bfrt.json.
	Info []byte
}

// ErrNoPipeline is returned for operations that need a pushed pipeline.
var ErrNoPipeline = errors.New("no forwarding pipeline pushed")

// Node is the per-unit handle combining the ID mapper, the table
// manager and the device manager.
type Node struct {
	unit   int
	tables *TableManager
	dev    DeviceManager
	ids    *IDMapper

	mu       sync.Mutex
	pipeline string
}

// NewNode creates the node for unit. tables must have been built on ids.
func NewNode(tables *TableManager, dev DeviceManager, ids *IDMapper, unit int) *Node {
	switch {
	case tables == nil:
		panic("bfrt: NewNode requires a table manager")
	case dev == nil:
		panic("bfrt: NewNode requires a device manager")
	case ids == nil:
		panic("bfrt: NewNode requires an ID mapper")
	case tables.IDMapper() != ids:
		panic("bfrt: table manager was built on a different ID mapper")
	}
	return &Node{unit: unit, tables: tables, dev: dev, ids: ids}
}

// Unit returns the node's unit.
func (n *Node) Unit() int { return n.unit }

// Tables returns the node's table manager.
func (n *Node) Tables() *TableManager { return n.tables }

// IDMapper returns the node's ID mapper.
func (n *Node) IDMapper() *IDMapper { return n.ids }

// Pipeline returns the name of the pushed pipeline, or "".
func (n *Node) Pipeline() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pipeline
}

// PushForwardingPipelineConfig replaces the unit's pipeline. Table
// state and id mappings from the previous pipeline are dropped. If the
// device accepts the pipeline but its tables do not match p, the
// pipeline is unloaded again and the node is left without one.
func (n *Node) PushForwardingPipelineConfig(ctx context.Context, p PipelineConfig) error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(p.Binary) == 0 {
		return fmt.Errorf("pipeline %q has no device binary", p.Name)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	vendorIDs, err := n.dev.LoadPipeline(ctx, n.unit, p)
	if err != nil {
		return fmt.Errorf("load pipeline %q on unit %d: %w", p.Name, n.unit, err)
	}

	next, err := mapTables(n.unit, p, vendorIDs)
	if err != nil {
		n.tables.Clear()
		n.ids.Reset()
		n.pipeline = ""
		if uerr := n.dev.UnloadPipeline(ctx, n.unit); uerr != nil {
			return errors.Join(err, fmt.Errorf("unload pipeline %q on unit %d: %w", p.Name, n.unit, uerr))
		}
		return err
	}

	n.tables.Clear()
	n.ids.replace(next)
	n.pipeline = p.Name
	return nil
}

// mapTables builds the id mappings of p from the vendor ids the device
// returned, without touching the node.
func mapTables(unit int, p PipelineConfig, vendorIDs map[string]uint32) (*IDMapper, error) {
	ids := NewIDMapper(unit)
	for _, t := range p.Tables {
		vid, ok := vendorIDs[t.Name]
		if !ok {
			return nil, fmt.Errorf("table %q missing from device pipeline %q", t.Name, p.Name)
		}
		if err := ids.Register(t.P4ID, vid); err != nil {
			return nil, fmt.Errorf("table %q: %w", t.Name, err)
		}
	}
	return ids, nil
}

// WriteEntry forwards a table update once a pipeline is in place.
func (n *Node) WriteEntry(ctx context.Context, update UpdateType, e TableEntry) error {
	if n.Pipeline() == "" {
		return ErrNoPipeline
	}
	return n.tables.WriteEntry(ctx, update, e)
}

// Shutdown unloads the pipeline, if any.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pipeline == "" {
		return nil
	}
	if err := n.dev.UnloadPipeline(ctx, n.unit); err != nil {
		return fmt.Errorf("unload pipeline on unit %d: %w", n.unit, err)
	}
	n.tables.Clear()
	n.ids.Reset()
	n.pipeline = ""
	return nil
}
