// Package model defines the computation graph handed to an execution backend.
//
// A Graph is a list of nodes over a table of tensors. Each node names a
// kernel opcode, the tensor it transforms in place, and the IDs of the nodes
// that must run before it. Graphs are built by callers (the CLI, membrane
// tests) and executed by runtime.Engine through a namespace.
//
// Key data structures:
//   - Node: kernel opcode, tensor index and dependency list
//   - Graph: nodes plus the tensor table they reference
//
// Validate checks references before execution; Optimize reorders nodes into
// dependency order and rejects cycles.
package model

import (
	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
)

// Node is a single kernel application.
type Node struct {
	ID     uint16
	Kernel uint8    // opcode in kernels.Catalog
	Tensor uint16   // index into Graph.Tensors
	Topo   []uint16 // IDs of nodes that must run first
}

// Graph is a set of nodes over a tensor table.
type Graph struct {
	Nodes   []Node
	Tensors []*core.Tensor
}

// NodeCount returns the number of nodes in the graph
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// AddTensor appends t to the tensor table and returns its index.
func (g *Graph) AddTensor(t *core.Tensor) uint16 {
	g.Tensors = append(g.Tensors, t)
	return uint16(len(g.Tensors) - 1)
}

// AddNode appends a node applying kernel to tensor after deps, and returns
// its ID. IDs are assigned sequentially.
func (g *Graph) AddNode(kernel uint8, tensor uint16, deps ...uint16) uint16 {
	id := uint16(len(g.Nodes))
	g.Nodes = append(g.Nodes, Node{
		ID:     id,
		Kernel: kernel,
		Tensor: tensor,
		Topo:   append([]uint16(nil), deps...),
	})
	return id
}

// Chain builds a graph applying kernel to each tensor in order, each node
// depending on the previous one.
func Chain(kernel uint8, tensors ...*core.Tensor) *Graph {
	g := &Graph{}
	for i, t := range tensors {
		idx := g.AddTensor(t)
		if i == 0 {
			g.AddNode(kernel, idx)
			continue
		}
		g.AddNode(kernel, idx, uint16(i-1))
	}
	return g
}

// Validate checks graph consistency
func (g *Graph) Validate() error {
	if g == nil {
		return errors.InvalidArgumentf("graph is nil")
	}
	if len(g.Nodes) == 0 {
		return errors.InvalidArgumentf("graph has no nodes")
	}

	ids := make(map[uint16]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if ids[node.ID] {
			return errors.InvalidArgumentf("duplicate node ID: %d", node.ID)
		}
		ids[node.ID] = true
	}

	for _, node := range g.Nodes {
		for _, dep := range node.Topo {
			if !ids[dep] {
				return errors.InvalidArgumentf("node %d references non-existent node %d", node.ID, dep)
			}
		}
		if !kernels.Valid(node.Kernel) {
			return errors.InvalidArgumentf("node %d uses unknown kernel %#x", node.ID, node.Kernel)
		}
		if int(node.Tensor) >= len(g.Tensors) {
			return errors.InvalidArgumentf("node %d tensor index %d exceeds table size %d", node.ID, node.Tensor, len(g.Tensors))
		}
		t := g.Tensors[node.Tensor]
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "node %d", node.ID)
		}
		if t.Type != core.F32 || !t.HasData() {
			return errors.InvalidArgumentf("node %d tensor %q must be f32 with storage", node.ID, t.Name)
		}
	}
	return nil
}

// Optimize reorders nodes into execution order. Nodes with no ordering
// constraint between them keep their relative position.
func (g *Graph) Optimize() error {
	order, err := g.topologicalSort()
	if err != nil {
		return err
	}
	g.Nodes = order
	return nil
}

// topologicalSort returns the nodes in dependency order using Kahn's algorithm.
func (g *Graph) topologicalSort() ([]Node, error) {
	index := make(map[uint16]int, len(g.Nodes))
	for i, node := range g.Nodes {
		index[node.ID] = i
	}

	dependents := make([][]int, len(g.Nodes))
	inDegree := make([]int, len(g.Nodes))
	for i, node := range g.Nodes {
		for _, dep := range node.Topo {
			j, ok := index[dep]
			if !ok {
				return nil, errors.InvalidArgumentf("node %d references non-existent node %d", node.ID, dep)
			}
			dependents[j] = append(dependents[j], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, len(g.Nodes))
	for i, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]Node, 0, len(g.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, g.Nodes[current])

		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, errors.InvalidArgumentf("graph has a cycle: %d of %d nodes ordered", len(order), len(g.Nodes))
	}
	return order, nil
}
