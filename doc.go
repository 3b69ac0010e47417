// Package p9ml organises a model's tensors into nested membranes and
// coordinates data-free quantization-aware training across them.
//
// A membrane is a named, levelled container holding references to tensors,
// evolution rules and child membranes. A namespace binds to the root of a
// membrane tree, carries the shared QAT policy and noise source, and
// forwards computation graphs to a backend. Recursive operations walk the
// tree depth-first, parent before children.
//
// # Architecture Overview
//
//   - Membranes: strict tree with capacity limits, non-owning tensor references
//   - Namespaces: tree-wide policy, metrics and a seeded noise generator
//   - QAT: bounded noise injection, tile geometry with a per-tile hook,
//     size-based mixed-precision assignment
//   - Rules: rewrite, communicate, divide and transport, fired by Evolve
//   - Runtime: arena allocation context and a concurrent graph engine
//
// # Basic Usage
//
//	ctx, _ := runtime.NewContext(64 << 20)
//	root := membrane.New("transformer_model", 0, ctx)
//	attn := membrane.New("attention", 1, ctx)
//	_ = root.AddChild(attn)
//
//	q, _ := ctx.NewNamedTensor("attn.q", core.F32, 512, 512)
//	_ = attn.AddObject(q)
//
//	ns := membrane.NewNamespace("ml_workspace", runtime.NewEngine(nil))
//	_ = ns.Bind(root)
//	_ = membrane.ApplyQAT(root, qat.New(core.Q4K, 0.05))
//
// # Package Structure
//
//   - core: tensors, type tags, alignment, binary serialization
//   - noise: deterministic bounded noise generator
//   - qat: QAT configuration, tiles, precision classification
//   - membrane: membranes, namespaces, propagation, rules, evolution
//   - kernels: in-place float32 kernels used by graphs and rewrite rules
//   - model: computation graph
//   - runtime: allocation arena and graph engine
//   - codec: YAML tree specs
//   - store/sqlite: namespace and tree snapshots
//   - config: TOML/env configuration
//   - cmd/p9ml: command line (demo, tree, bench, snapshot, version)
package p9ml
