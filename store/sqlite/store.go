package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sbl8/p9ml/codec"
	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/logger"
	"github.com/sbl8/p9ml/membrane"
)

// ErrNotFound is returned when a namespace or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Store reads and writes namespaces and tree snapshots.
type Store struct {
	db *sql.DB
}

// Snapshot describes a saved tree.
type Snapshot struct {
	ID        uuid.UUID
	Name      string
	Namespace string // empty when the tree was unbound
	Membranes int
	Tensors   int
	CreatedAt time.Time
}

// New wraps db and creates the schema if needed.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.InvalidArgumentf("store: db is nil")
	}
	if err := migrate(db); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SaveNamespace inserts or replaces the namespace's policy and metrics.
func (s *Store) SaveNamespace(ctx context.Context, ns *membrane.Namespace) error {
	if ns == nil {
		return errors.InvalidArgumentf("save namespace: namespace is nil")
	}
	return saveNamespace(ctx, s.db, ns)
}

func saveNamespace(ctx context.Context, db execer, ns *membrane.Namespace) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO namespaces (name, noise_scale, target_bits, mixed_precision, total_params, quantized_params, compression_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			noise_scale = excluded.noise_scale,
			target_bits = excluded.target_bits,
			mixed_precision = excluded.mixed_precision,
			total_params = excluded.total_params,
			quantized_params = excluded.quantized_params,
			compression_ratio = excluded.compression_ratio,
			updated_at = CURRENT_TIMESTAMP
	`, ns.Name, ns.NoiseScale, ns.TargetBits, ns.MixedPrecision, ns.TotalParams, ns.QuantizedParams, ns.CompressionRatio)
	if err != nil {
		return errors.Wrapf(err, "failed to save namespace %q", ns.Name)
	}
	return nil
}

// GetNamespace loads a namespace by name. The result has no backend and no
// root.
func (s *Store) GetNamespace(ctx context.Context, name string) (*membrane.Namespace, error) {
	var (
		noiseScale float64
		mixed      bool
		ns         = membrane.NewNamespace(name, nil)
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT noise_scale, target_bits, mixed_precision, total_params, quantized_params, compression_ratio
		FROM namespaces WHERE name = ?
	`, name).Scan(&noiseScale, &ns.TargetBits, &mixed, &ns.TotalParams, &ns.QuantizedParams, &ns.CompressionRatio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "namespace %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query namespace %q", name)
	}
	ns.NoiseScale = float32(noiseScale)
	ns.MixedPrecision = mixed
	return ns, nil
}

// SaveTree stores the tree rooted at root under name, replacing any
// snapshot with that name. Tensor contents are stored; the allocation
// context and backend are not. A bound namespace is saved alongside.
func (s *Store) SaveTree(ctx context.Context, name string, root *membrane.Membrane) (snap *Snapshot, err error) {
	if root == nil || name == "" {
		return nil, errors.InvalidArgumentf("save tree: root or name is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := deleteSnapshot(ctx, tx, name); err != nil {
		return nil, err
	}

	snap = &Snapshot{ID: uuid.New(), Name: name}
	if ns := root.Namespace(); ns != nil {
		if err := saveNamespace(ctx, tx, ns); err != nil {
			return nil, err
		}
		snap.Namespace = ns.Name
	}

	type row struct {
		m      *membrane.Membrane
		parent *uuid.UUID
	}
	var rows []row
	_ = membrane.Walk(root, func(m *membrane.Membrane) error {
		r := row{m: m}
		if p := m.Parent(); p != nil && m != root {
			id := p.ID
			r.parent = &id
		}
		rows = append(rows, r)
		snap.Membranes++
		snap.Tensors += m.NumObjects()
		return nil
	})

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, name, namespace, membranes, tensors) VALUES (?, ?, ?, ?, ?)`,
		snap.ID.String(), name, nullString(snap.Namespace), snap.Membranes, snap.Tensors); err != nil {
		return nil, errors.Wrap(err, "failed to insert snapshot")
	}

	for seq, r := range rows {
		if err := insertMembrane(ctx, tx, snap.ID, seq, r.m, r.parent); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit snapshot")
	}
	logger.Logger.Debugw("saved snapshot", "snapshot", name, "membranes", snap.Membranes, "tensors", snap.Tensors)
	return snap, nil
}

func insertMembrane(ctx context.Context, tx *sql.Tx, snapID uuid.UUID, seq int, m *membrane.Membrane, parent *uuid.UUID) error {
	var parentID sql.NullString
	if parent != nil {
		parentID = sql.NullString{String: parent.String(), Valid: true}
	}

	specs := make([]codec.RuleSpec, 0, m.NumRules())
	for _, r := range m.Rules() {
		specs = append(specs, codec.NewRuleSpec(r))
	}
	rules, err := json.Marshal(specs)
	if err != nil {
		return errors.Wrapf(err, "membrane %q rules", m.Name)
	}
	var qatJSON []byte
	if cfg, ok := m.QATConfig(); ok {
		if qatJSON, err = json.Marshal(codec.NewQATSpec(cfg)); err != nil {
			return errors.Wrapf(err, "membrane %q qat", m.Name)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO membranes (snapshot_id, seq, id, parent_id, name, level, max_children, max_objects, max_rules, rules, qat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snapID.String(), seq, m.ID.String(), parentID, m.Name, m.Level,
		m.Limits.MaxChildren, m.Limits.MaxObjects, m.Limits.MaxRules, string(rules), nullBytes(qatJSON)); err != nil {
		return errors.Wrapf(err, "failed to insert membrane %q", m.Name)
	}

	for pos, t := range m.Objects() {
		data, err := core.SerializeTensor(t)
		if err != nil {
			return errors.Wrapf(err, "membrane %q tensor %q", m.Name, t.Name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tensors (snapshot_id, membrane_seq, position, name, data) VALUES (?, ?, ?, ?, ?)`,
			snapID.String(), seq, pos, t.Name, data); err != nil {
			return errors.Wrapf(err, "failed to insert tensor %q", t.Name)
		}
	}
	return nil
}

// LoadTree rebuilds the snapshot saved under name. Tensors are heap-backed
// and membranes have no allocation context. When the snapshot recorded a
// namespace, a namespace without a backend is restored and bound.
func (s *Store) LoadTree(ctx context.Context, name string) (*membrane.Membrane, error) {
	snap, err := s.GetSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, parent_id, name, level, max_children, max_objects, max_rules, rules, qat
		FROM membranes WHERE snapshot_id = ? ORDER BY seq
	`, snap.ID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to query membranes")
	}

	bySeq := make(map[int]*membrane.Membrane)
	byID := make(map[uuid.UUID]*membrane.Membrane)
	var root *membrane.Membrane
	for rows.Next() {
		m, parentID, seq, err := scanMembrane(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bySeq[seq] = m
		byID[m.ID] = m
		if root == nil {
			root = m
			continue
		}
		parent, ok := byID[parentID]
		if !ok {
			rows.Close()
			return nil, errors.Newf("snapshot %q: membrane %q has unknown parent %s", name, m.Name, parentID)
		}
		if err := parent.AddChild(m); err != nil {
			rows.Close()
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "error iterating membranes")
	}
	rows.Close()
	if root == nil {
		return nil, errors.Newf("snapshot %q has no membranes", name)
	}

	if err := s.loadTensors(ctx, snap, bySeq); err != nil {
		return nil, err
	}

	if snap.Namespace != "" {
		ns, err := s.GetNamespace(ctx, snap.Namespace)
		if err != nil {
			return nil, err
		}
		if err := ns.Bind(root); err != nil {
			return nil, err
		}
	}
	return root, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMembrane(sc scanner) (*membrane.Membrane, uuid.UUID, int, error) {
	var (
		seq, level                        int
		id, name                          string
		parentID                          sql.NullString
		maxChildren, maxObjects, maxRules int
		rulesJSON, qatJSON                sql.NullString
	)
	if err := sc.Scan(&seq, &id, &parentID, &name, &level, &maxChildren, &maxObjects, &maxRules, &rulesJSON, &qatJSON); err != nil {
		return nil, uuid.Nil, 0, errors.Wrap(err, "failed to scan membrane")
	}

	m := membrane.NewWithLimits(name, level, nil, membrane.Limits{
		MaxChildren: maxChildren,
		MaxObjects:  maxObjects,
		MaxRules:    maxRules,
	})
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return nil, uuid.Nil, 0, errors.Wrapf(err, "membrane %q id", name)
	}

	var parent uuid.UUID
	if parentID.Valid {
		if parent, err = uuid.Parse(parentID.String); err != nil {
			return nil, uuid.Nil, 0, errors.Wrapf(err, "membrane %q parent id", name)
		}
	}

	if rulesJSON.Valid {
		var specs []codec.RuleSpec
		if err := json.Unmarshal([]byte(rulesJSON.String), &specs); err != nil {
			return nil, uuid.Nil, 0, errors.Wrapf(err, "membrane %q rules", name)
		}
		for _, rs := range specs {
			r, err := rs.Rule()
			if err != nil {
				return nil, uuid.Nil, 0, errors.Wrapf(err, "membrane %q", name)
			}
			if err := m.AddRule(r); err != nil {
				return nil, uuid.Nil, 0, err
			}
		}
	}
	if qatJSON.Valid {
		var qs codec.QATSpec
		if err := json.Unmarshal([]byte(qatJSON.String), &qs); err != nil {
			return nil, uuid.Nil, 0, errors.Wrapf(err, "membrane %q qat", name)
		}
		cfg, err := qs.Config()
		if err != nil {
			return nil, uuid.Nil, 0, errors.Wrapf(err, "membrane %q qat", name)
		}
		m.AttachQAT(cfg)
	}
	return m, parent, seq, nil
}

func (s *Store) loadTensors(ctx context.Context, snap *Snapshot, bySeq map[int]*membrane.Membrane) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT membrane_seq, name, data FROM tensors
		WHERE snapshot_id = ? ORDER BY membrane_seq, position
	`, snap.ID.String())
	if err != nil {
		return errors.Wrap(err, "failed to query tensors")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			data []byte
		)
		if err := rows.Scan(&seq, &name, &data); err != nil {
			return errors.Wrap(err, "failed to scan tensor")
		}
		m, ok := bySeq[seq]
		if !ok {
			return errors.Newf("tensor %q belongs to unknown membrane %d", name, seq)
		}
		t, err := core.DeserializeTensor(data)
		if err != nil {
			return errors.Wrapf(err, "tensor %q", name)
		}
		if err := m.AddObject(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetSnapshot returns the metadata of the snapshot saved under name.
func (s *Store) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, namespace, membranes, tensors, created_at
		FROM snapshots WHERE name = ?
	`, name)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "snapshot %q", name)
	}
	return snap, err
}

// ListSnapshots returns every snapshot, oldest first.
func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, namespace, membranes, tensors, created_at
		FROM snapshots ORDER BY created_at, name
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query snapshots")
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes the snapshot saved under name. Deleting a missing
// snapshot is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := deleteSnapshot(ctx, tx, name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit delete")
}

func deleteSnapshot(ctx context.Context, tx *sql.Tx, name string) error {
	for _, q := range []string{
		`DELETE FROM tensors WHERE snapshot_id IN (SELECT id FROM snapshots WHERE name = ?)`,
		`DELETE FROM membranes WHERE snapshot_id IN (SELECT id FROM snapshots WHERE name = ?)`,
		`DELETE FROM snapshots WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return errors.Wrapf(err, "failed to delete snapshot %q", name)
		}
	}
	return nil
}

func scanSnapshot(sc scanner) (*Snapshot, error) {
	var (
		snap      Snapshot
		id        string
		namespace sql.NullString
		created   sql.NullTime
	)
	if err := sc.Scan(&id, &snap.Name, &namespace, &snap.Membranes, &snap.Tensors, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan snapshot")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %q id", snap.Name)
	}
	snap.ID = parsed
	snap.Namespace = namespace.String
	snap.CreatedAt = created.Time
	return &snap, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}
