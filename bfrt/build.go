package bfrt

// Component identifies one object of the pipeline graph.
type Component string

const (
	ComponentIDMapper      Component = "id_mapper"
	ComponentTableManager  Component = "table_manager"
	ComponentDeviceManager Component = "device_manager"
	ComponentNode          Component = "node"
)

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	hook func(Component, int)
}

// WithConstructionHook calls hook after each object of the graph exists.
func WithConstructionHook(hook func(c Component, unit int)) BuildOption {
	return func(o *buildOptions) {
		o.hook = hook
	}
}

// Build constructs the pipeline graph of unit in dependency order: ID
// mapper, table manager, device manager reference, node.
func Build(unit int, dev DeviceManager, opts ...BuildOption) *Node {
	o := buildOptions{hook: func(Component, int) {}}
	for _, opt := range opts {
		opt(&o)
	}

	ids := NewIDMapper(unit)
	o.hook(ComponentIDMapper, unit)

	tables := NewTableManager(unit, ids)
	o.hook(ComponentTableManager, unit)

	if dev == nil {
		panic("bfrt: Build requires the vendor device manager")
	}
	o.hook(ComponentDeviceManager, unit)

	node := NewNode(tables, dev, ids, unit)
	o.hook(ComponentNode, unit)

	return node
}
