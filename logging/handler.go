package logging

import (
	"context"
	"log/slog"
)

// ComponentKey is the attribute that selects a component's level.
const ComponentKey = "component"

// componentFilter drops records below the level the spec assigns to
// the handler's component. The component is picked up from the
// attributes passed to WithAttrs, i.e. from logger.With("component", x).
type componentFilter struct {
	next      slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps next so that records are filtered per
// component according to spec.
func NewFilteringHandler(next slog.Handler, spec *Spec) slog.Handler {
	return &componentFilter{next: next, spec: spec}
}

func (h *componentFilter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).Slog()
}

func (h *componentFilter) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *componentFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &componentFilter{
		next:      h.next.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}
	for _, a := range attrs {
		if a.Key == ComponentKey {
			clone.component = a.Value.String()
		}
	}
	return clone
}

func (h *componentFilter) WithGroup(name string) slog.Handler {
	return &componentFilter{
		next:      h.next.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
