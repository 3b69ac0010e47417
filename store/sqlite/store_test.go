package sqlite

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/p9ml/core"
	"github.com/sbl8/p9ml/errors"
	"github.com/sbl8/p9ml/kernels"
	"github.com/sbl8/p9ml/membrane"
	"github.com/sbl8/p9ml/qat"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:", nil)
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func heapTensor(t *testing.T, name string, dt core.DType, shape ...int64) *core.Tensor {
	t.Helper()
	tensor, err := core.NewTensor(name, dt, shape...)
	require.NoError(t, err)
	tensor.Fill(func(i int) float32 { return float32(i) * 0.25 })
	return tensor
}

// buildModel returns model -> {embedding, attention -> heads}.
func buildModel(t *testing.T) *membrane.Membrane {
	t.Helper()
	root := membrane.New("model", 0, nil)
	emb := membrane.New("embedding", 1, nil)
	attn := membrane.NewWithLimits("attention", 1, nil, membrane.Limits{MaxChildren: 2, MaxObjects: 8, MaxRules: 0})
	heads := membrane.New("heads", 2, nil)
	require.NoError(t, root.AddChild(emb))
	require.NoError(t, root.AddChild(attn))
	require.NoError(t, attn.AddChild(heads))

	require.NoError(t, emb.AddObject(heapTensor(t, "emb.weight", core.F32, 4, 3)))
	require.NoError(t, attn.AddObject(heapTensor(t, "attn.q", core.F32, 2, 2)))
	require.NoError(t, attn.AddObject(heapTensor(t, "attn.k", core.F16, 2, 2)))
	require.NoError(t, heads.AddObject(heapTensor(t, "head.0", core.Q8_0, 16)))

	require.NoError(t, attn.AddRule(membrane.Rewrite("attn.q", kernels.OpTanh)))
	require.NoError(t, attn.AddRule(membrane.CommunicateIn("attn.k", "heads")))
	require.NoError(t, heads.AddRule(membrane.CommunicateOut("head.")))
	attn.AttachQAT(qat.New(core.Q4K, 0.05))

	ns := membrane.NewNamespace("model_ns", nil)
	ns.TargetBits = 4
	ns.MixedPrecision = true
	require.NoError(t, ns.Bind(root))
	ns.SetMetrics(membrane.CountParams(root), 8, 8.0/4.0)
	return root
}

func assertSameTree(t *testing.T, want, got *membrane.Membrane) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Level, got.Level)
	assert.Equal(t, want.Limits, got.Limits)
	assert.Equal(t, want.Rules(), got.Rules())

	wantCfg, wantOK := want.QATConfig()
	gotCfg, gotOK := got.QATConfig()
	assert.Equal(t, wantOK, gotOK, "membrane %s qat", want.Name)
	assert.Equal(t, wantCfg, gotCfg)

	wantObjs, gotObjs := want.Objects(), got.Objects()
	require.Len(t, gotObjs, len(wantObjs))
	for i := range wantObjs {
		assert.Equal(t, wantObjs[i].Name, gotObjs[i].Name)
		assert.Equal(t, wantObjs[i].Type, gotObjs[i].Type)
		assert.Equal(t, wantObjs[i].Shape, gotObjs[i].Shape)
		assert.Equal(t, wantObjs[i].Data, gotObjs[i].Data)
	}

	wantKids, gotKids := want.Children(), got.Children()
	require.Len(t, gotKids, len(wantKids))
	for i := range wantKids {
		assert.Same(t, got, gotKids[i].Parent())
		assertSameTree(t, wantKids[i], gotKids[i])
	}
}

func TestNamespaceRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ns := membrane.NewNamespace("ws", nil)
	ns.NoiseScale = 0.05
	ns.MixedPrecision = true
	ns.SetMetrics(1000, 250, 4)
	require.NoError(t, s.SaveNamespace(ctx, ns))

	got, err := s.GetNamespace(ctx, "ws")
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got.NoiseScale, 1e-6)
	assert.True(t, got.MixedPrecision)
	assert.Equal(t, int64(1000), got.TotalParams)
	assert.Equal(t, int64(250), got.QuantizedParams)
	assert.InDelta(t, 4.0, got.CompressionRatio, 1e-9)
	assert.Nil(t, got.Root())

	ns.AddParams(24, 24)
	require.NoError(t, s.SaveNamespace(ctx, ns))
	got, err = s.GetNamespace(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), got.TotalParams, "save upserts")

	_, err = s.GetNamespace(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.IsInvalidArgument(s.SaveNamespace(ctx, nil)))
}

func TestTreeRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	root := buildModel(t)

	snap, err := s.SaveTree(ctx, "v1", root)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Membranes)
	assert.Equal(t, 4, snap.Tensors)
	assert.Equal(t, "model_ns", snap.Namespace)

	loaded, err := s.LoadTree(ctx, "v1")
	require.NoError(t, err)
	assertSameTree(t, root, loaded)
	assert.Nil(t, loaded.Context())

	ns := loaded.Namespace()
	require.NotNil(t, ns)
	assert.Same(t, loaded, ns.Root())
	assert.Equal(t, 4, ns.TargetBits)
	assert.Equal(t, root.Namespace().TotalParams, ns.TotalParams)
	assert.InDelta(t, 2.0, ns.CompressionRatio, 1e-9)
	for _, c := range loaded.Children() {
		assert.Same(t, ns, c.Namespace())
	}

	// restored rules still fire
	require.NoError(t, membrane.Evolve(loaded))
	heads := membrane.Find(loaded, "heads")
	require.NotNil(t, heads)
	assert.Equal(t, 1, heads.NumObjects(), "attn.k came in, head.0 went out")
}

func TestSaveTreeReplacesByName(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.SaveTree(ctx, "latest", buildModel(t))
	require.NoError(t, err)

	small := membrane.New("small", 0, nil)
	require.NoError(t, small.AddObject(heapTensor(t, "x", core.F32, 2)))
	_, err = s.SaveTree(ctx, "latest", small)
	require.NoError(t, err)

	loaded, err := s.LoadTree(ctx, "latest")
	require.NoError(t, err)
	assertSameTree(t, small, loaded)
	assert.Nil(t, loaded.Namespace())

	snaps, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "latest", snaps[0].Name)
	assert.Empty(t, snaps[0].Namespace)
}

func TestSaveSubtree(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	root := buildModel(t)
	attn := root.Child("attention")

	_, err := s.SaveTree(ctx, "attn", attn)
	require.NoError(t, err)
	loaded, err := s.LoadTree(ctx, "attn")
	require.NoError(t, err)
	assert.Nil(t, loaded.Parent())
	assertSameTree(t, attn, loaded)
}

func TestDeleteSnapshot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.SaveTree(ctx, "gone", buildModel(t))
	require.NoError(t, err)
	require.NoError(t, s.DeleteSnapshot(ctx, "gone"))
	require.NoError(t, s.DeleteSnapshot(ctx, "gone"))

	_, err = s.LoadTree(ctx, "gone")
	assert.True(t, errors.Is(err, ErrNotFound))
	snaps, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestSaveTreeInvalid(t *testing.T) {
	s := newStore(t)
	_, err := s.SaveTree(context.Background(), "", membrane.New("r", 0, nil))
	assert.True(t, errors.IsInvalidArgument(err))
	_, err = s.SaveTree(context.Background(), "x", nil)
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = New(nil)
	assert.True(t, errors.IsInvalidArgument(err))
}

// sqlmock tests cover failure paths that a real database will not produce.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS namespaces").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(db)
	require.NoError(t, err)
	return s, mock
}

func TestNewMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("read-only file system"))
	_, err = New(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to migrate database")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveNamespaceError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("disk I/O error")
	mock.ExpectExec("INSERT INTO namespaces").
		WithArgs("ws", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(boom)

	err := s.SaveNamespace(context.Background(), membrane.NewNamespace("ws", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTreeRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("constraint failed")

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM tensors").WithArgs("snap").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM membranes").WithArgs("snap").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM snapshots").WithArgs("snap").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO snapshots").WillReturnError(boom)
	mock.ExpectRollback()

	_, err := s.SaveTree(context.Background(), "snap", membrane.New("r", 0, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshotNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM snapshots WHERE name").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "namespace", "membranes", "tensors", "created_at"}))

	_, err := s.GetSnapshot(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
