// Package runtime implements the p9ml execution backend and allocation
// context.
//
// Key components:
//   - Context: arena-backed tensor allocation with cache-aligned storage
//   - Engine: executes model graphs, one kernel per node, in dependency order
//   - ExecutionStats: per-engine latency and kernel counters
//
// Execution model:
//  1. Validate the graph and order nodes topologically
//  2. Group nodes into dependency levels
//  3. Run each level's nodes concurrently across workers; nodes that share a
//     tensor run sequentially in graph order
//  4. Collect execution statistics
package runtime

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/model"
)

// EngineOptions configures engine behavior
type EngineOptions struct {
	Workers     int
	EnableStats bool
}

// ExecutionStats tracks runtime performance metrics
type ExecutionStats struct {
	TotalExecutions  int64
	NodesExecuted    int64
	AverageLatency   time.Duration
	KernelExecutions map[uint8]int64
}

// DefaultEngineOptions provides sensible runtime defaults
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Workers:     runtime.NumCPU(),
		EnableStats: true,
	}
}

// Engine executes computation graphs. It is safe for concurrent use; graphs
// passed to concurrent calls must not share tensors.
type Engine struct {
	opts  EngineOptions
	stats ExecutionStats
	mu    sync.RWMutex
}

// NewEngine creates an engine. A nil opts selects DefaultEngineOptions.
func NewEngine(opts *EngineOptions) *Engine {
	o := DefaultEngineOptions()
	if opts != nil {
		o = *opts
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return &Engine{
		opts:  o,
		stats: ExecutionStats{KernelExecutions: make(map[uint8]int64)},
	}
}

// Workers returns the configured parallelism.
func (e *Engine) Workers() int {
	return e.opts.Workers
}

// GraphCompute runs every node of g. The caller's node order is left
// untouched. Cancellation is checked before each node.
func (e *Engine) GraphCompute(ctx context.Context, g *model.Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	ordered := &model.Graph{Nodes: append([]model.Node(nil), g.Nodes...), Tensors: g.Tensors}
	if err := ordered.Optimize(); err != nil {
		return err
	}

	start := time.Now()
	levels := dependencyLevels(ordered.Nodes)
	for i, level := range levels {
		if err := e.runLevel(ctx, g, level); err != nil {
			return errors.Wrapf(err, "level %d", i)
		}
	}

	e.updateExecutionStats(start)
	logger.Logger.Debugw("graph computed",
		"nodes", len(g.Nodes),
		"levels", len(levels),
		"elapsed", time.Since(start))
	return nil
}

// runLevel executes one dependency level. Nodes are bucketed by tensor so
// no two goroutines touch the same storage.
func (e *Engine) runLevel(ctx context.Context, g *model.Graph, level []model.Node) error {
	byTensor := make(map[uint16][]model.Node)
	var tensorOrder []uint16
	for _, node := range level {
		if _, ok := byTensor[node.Tensor]; !ok {
			tensorOrder = append(tensorOrder, node.Tensor)
		}
		byTensor[node.Tensor] = append(byTensor[node.Tensor], node)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Workers)
	for _, idx := range tensorOrder {
		nodes := byTensor[idx]
		group.Go(func() error {
			for _, node := range nodes {
				if err := gctx.Err(); err != nil {
					return errors.Wrapf(err, "node %d", node.ID)
				}
				e.executeNode(g, node)
			}
			return nil
		})
	}
	return group.Wait()
}

// executeNode runs a single node's kernel on its tensor
func (e *Engine) executeNode(g *model.Graph, node model.Node) {
	kernels.GetKernel(node.Kernel)(g.Tensors[node.Tensor].Float32s())
	if e.opts.EnableStats {
		e.updateKernelStats(node.Kernel)
	}
}

// dependencyLevels groups topologically ordered nodes so every node sits
// one level after its deepest dependency.
func dependencyLevels(ordered []model.Node) [][]model.Node {
	depth := make(map[uint16]int, len(ordered))
	var levels [][]model.Node
	for _, node := range ordered {
		d := 0
		for _, dep := range node.Topo {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[node.ID] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], node)
	}
	return levels
}

// updateKernelStats safely updates kernel execution statistics
func (e *Engine) updateKernelStats(kernelID uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.KernelExecutions[kernelID]++
	e.stats.NodesExecuted++
}

// updateExecutionStats updates total executions and average latency
func (e *Engine) updateExecutionStats(start time.Time) {
	if !e.opts.EnableStats {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalExecutions++
	duration := time.Since(start)
	if e.stats.TotalExecutions == 1 {
		e.stats.AverageLatency = duration
		return
	}
	oldTotal := e.stats.TotalExecutions - 1
	e.stats.AverageLatency = time.Duration((int64(e.stats.AverageLatency)*oldTotal + int64(duration)) / e.stats.TotalExecutions)
}

// Stats returns current execution statistics
func (e *Engine) Stats() ExecutionStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := e.stats
	stats.KernelExecutions = make(map[uint8]int64, len(e.stats.KernelExecutions))
	for k, v := range e.stats.KernelExecutions {
		stats.KernelExecutions[k] = v
	}
	return stats
}
