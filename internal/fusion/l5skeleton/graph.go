package l5skeleton

import (
	"errors"
	"fmt"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

var (
	// ErrRootExists is returned when a second root node is declared.
	ErrRootExists = errors.New("skeleton already has a root")
	// ErrDuplicateNode is returned when a node name is reused.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownParent is returned when a node names a parent not yet added.
	ErrUnknownParent = errors.New("unknown parent node")
	// ErrUnknownNode is returned for operations on a node never added.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownModel is returned for a model kind missing from the dispatch table.
	ErrUnknownModel = errors.New("unknown model")
)

// Node is one joint of the skeleton. Nodes refer to their parent by name
// only.
type Node struct {
	Name   l1measurements.NodeDescriptor
	Parent l1measurements.NodeDescriptor // empty for the root
	Model  ModelKind

	state State
	queue []*l1measurements.Measurement
}

// Graph is the skeleton tree. Nodes are kept in insertion order, which is
// also a topological order since a parent must exist before its children.
// Graph is not safe for concurrent use; the pipeline serialises access.
type Graph struct {
	policy QueuePolicy
	nodes  map[l1measurements.NodeDescriptor]*Node
	order  []l1measurements.NodeDescriptor
	root   l1measurements.NodeDescriptor
}

// NewGraph creates an empty skeleton whose queues resolve under policy.
func NewGraph(policy QueuePolicy) *Graph {
	return &Graph{
		policy: policy,
		nodes:  make(map[l1measurements.NodeDescriptor]*Node),
	}
}

// Policy returns the queue policy.
func (g *Graph) Policy() QueuePolicy { return g.policy }

// AddNode inserts node under parent. An empty parent declares the root.
func (g *Graph) AddNode(node, parent l1measurements.NodeDescriptor, model ModelKind) error {
	if node == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownNode)
	}
	if _, ok := g.nodes[node]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node)
	}
	impl, ok := models[model]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownModel, model)
	}
	if parent == "" {
		if g.root != "" {
			return fmt.Errorf("%w: %s (cannot add %s)", ErrRootExists, g.root, node)
		}
		g.root = node
	} else if _, ok := g.nodes[parent]; !ok {
		return fmt.Errorf("%w: %s (parent of %s)", ErrUnknownParent, parent, node)
	}

	g.nodes[node] = &Node{
		Name:   node,
		Parent: parent,
		Model:  model,
		state:  initialState(impl.Dim()),
	}
	g.order = append(g.order, node)
	return nil
}

// Has reports whether node exists.
func (g *Graph) Has(node l1measurements.NodeDescriptor) bool {
	_, ok := g.nodes[node]
	return ok
}

// AddMeasurement queues m, expressed in the reference frame, for node.
func (g *Graph) AddMeasurement(node l1measurements.NodeDescriptor, m *l1measurements.Measurement) error {
	n, ok := g.nodes[node]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	n.queue = append(n.queue, m)
	return nil
}

// Pending returns the number of measurements queued for node.
func (g *Graph) Pending(node l1measurements.NodeDescriptor) int {
	if n, ok := g.nodes[node]; ok {
		return len(n.queue)
	}
	return 0
}

// Fuse replaces each node's state with its queue winner and clears every
// queue. Parents are processed before children so a child's measurement
// is re-expressed against its parent's updated pose. It returns the nodes
// whose state changed. With nothing queued it changes nothing.
func (g *Graph) Fuse() []l1measurements.NodeDescriptor {
	var updated []l1measurements.NodeDescriptor
	world := make(map[l1measurements.NodeDescriptor]State, len(g.nodes))
	for _, name := range g.order {
		n := g.nodes[name]
		if len(n.queue) > 0 {
			toParent := g.worldOf(n.Parent, world).Transform().Inverse()
			local := make(map[*l1measurements.Measurement]*l1measurements.Measurement)
			sel := func(accept func(*l1measurements.Measurement) bool) *l1measurements.Measurement {
				m := g.policy.pick(n.queue, accept)
				if m == nil {
					return nil
				}
				if lm, ok := local[m]; ok {
					return lm
				}
				lm := m.Transformed(toParent)
				local[m] = lm
				return lm
			}
			if models[n.Model].Update(&n.state, sel) {
				updated = append(updated, name)
			} else {
				fusion.Tracef("fuse: node %s skipped %d measurements its %v model cannot use", name, len(n.queue), n.Model)
			}
			n.queue = nil
		}
		g.worldOf(name, world)
	}
	if len(updated) > 0 {
		fusion.Tracef("fuse: updated %d/%d nodes", len(updated), len(g.nodes))
	}
	return updated
}

// worldOf resolves node's pose in the reference frame, memoised in cache.
// The empty name is the root's parent: the identity.
func (g *Graph) worldOf(node l1measurements.NodeDescriptor, cache map[l1measurements.NodeDescriptor]State) State {
	if node == "" {
		return initialState(3)
	}
	if s, ok := cache[node]; ok {
		return s
	}
	n := g.nodes[node]
	s := compose(g.worldOf(n.Parent, cache), n.state)
	cache[node] = s
	return s
}

// State returns node's state relative to its parent.
func (g *Graph) State(node l1measurements.NodeDescriptor) (State, bool) {
	n, ok := g.nodes[node]
	if !ok {
		return State{}, false
	}
	return n.state.clone(), true
}

// WorldState returns node's state in the reference frame by composing
// local states up to the root.
func (g *Graph) WorldState(node l1measurements.NodeDescriptor) (State, error) {
	if _, ok := g.nodes[node]; !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	return g.worldOf(node, make(map[l1measurements.NodeDescriptor]State)), nil
}

// Ancestors returns node's parent chain, nearest first, ending at the root.
func (g *Graph) Ancestors(node l1measurements.NodeDescriptor) ([]l1measurements.NodeDescriptor, error) {
	n, ok := g.nodes[node]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	var out []l1measurements.NodeDescriptor
	for p := n.Parent; p != ""; p = g.nodes[p].Parent {
		out = append(out, p)
	}
	return out, nil
}

// Node returns a copy of node's descriptor fields.
func (g *Graph) Node(node l1measurements.NodeDescriptor) (Node, bool) {
	n, ok := g.nodes[node]
	if !ok {
		return Node{}, false
	}
	return Node{Name: n.Name, Parent: n.Parent, Model: n.Model}, true
}

// Nodes returns node names in insertion order.
func (g *Graph) Nodes() []l1measurements.NodeDescriptor {
	out := make([]l1measurements.NodeDescriptor, len(g.order))
	copy(out, g.order)
	return out
}

// Root returns the root node, if one has been declared.
func (g *Graph) Root() (l1measurements.NodeDescriptor, bool) {
	return g.root, g.root != ""
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }
