package flow

import "context"

// StateHandler is a named handler within a flow class, invoked with a
// completed (request, responses) pair. It is the static analogue of the
// source's dynamic dispatch-by-name: next_state is a string looked up on
// the flow object at runtime there, and a map lookup here.
type StateHandler func(ctx context.Context, fc *Context, flow *Flow, req RequestState, responses []Message) error

// ClassDef describes a flow class: its constructor and its declared
// states. For ordered flows, the set of keys in States doubles as the
// declared adjacency list used to validate CallClient/CallFlow's
// next_state argument (§4.C).
type ClassDef struct {
	Name     string
	New      func() *Flow
	States   map[string]StateHandler
	Ordered  bool
}

// HasState reports whether name is a declared state for this class.
func (c *ClassDef) HasState(name string) bool {
	_, ok := c.States[name]
	return ok
}

// ClassRegistry maps flow-class names to their ClassDef, resolved by
// FlowFactory when starting or loading a flow.
type ClassRegistry struct {
	classes map[string]*ClassDef
}

// NewClassRegistry returns an empty registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{classes: make(map[string]*ClassDef)}
}

// Register adds a class definition, keyed by its Name.
func (r *ClassRegistry) Register(def *ClassDef) {
	r.classes[def.Name] = def
}

// Lookup returns the class definition for name, or false if unknown.
func (r *ClassRegistry) Lookup(name string) (*ClassDef, bool) {
	def, ok := r.classes[name]
	return def, ok
}
