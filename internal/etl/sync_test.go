package etl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeDocs() []Document {
	return []Document{
		doc("1", map[string]Value{"msg": String("a")}),
		doc("2", map[string]Value{"msg": String("b")}),
		doc("3", map[string]Value{"msg": String("c")}),
	}
}

func newTestEngine(src *fakeSource, dest *fakeDest, store *memStore, batch int) *Engine {
	return NewEngine(src, dest, store, Options{BatchSize: batch, SessionTimeout: time.Minute, Location: time.UTC}, nil)
}

func processed(saves []Checkpoint) []int64 {
	out := make([]int64, len(saves))
	for i, cp := range saves {
		out[i] = cp.ProcessedCount
	}
	return out
}

func TestEngine_SyncsEveryPage(t *testing.T) {
	src := &fakeSource{schema: CollectionSchema{"msg": FieldKeyword}, docs: threeDocs()}
	dest := newFakeDest()
	store := newMemStore()

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "logs-2024-01-15")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.TableCreated)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 3, res.Documents)
	assert.EqualValues(t, 3, res.ProcessedCount)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, dest.batches, 2)
	assert.Len(t, dest.batches[0], 2)
	assert.Len(t, dest.batches[1], 1)
	assert.Equal(t, []ColumnDef{
		{Name: "id", Type: ColumnID, PrimaryKey: true},
		{Name: "msg", Type: ColumnKeyword},
	}, dest.tables["logs-2024-01-15"])

	assert.Equal(t, []int64{2, 3}, processed(store.saves))
	final := store.cps["logs-2024-01-15"]
	require.NotNil(t, final.Cursor)
	assert.Equal(t, "3", *final.Cursor)

	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, dest.closed)
}

func TestEngine_ResumesFromCheckpoint(t *testing.T) {
	src := &fakeSource{schema: CollectionSchema{"msg": FieldKeyword}, docs: threeDocs()}
	dest := newFakeDest()
	store := newMemStore()
	store.cps["idx"] = Checkpoint{Cursor: strp("2"), ProcessedCount: 2}

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.NoError(t, err)

	require.NotEmpty(t, src.fetches)
	require.NotNil(t, src.fetches[0])
	assert.Equal(t, "2", *src.fetches[0])
	require.Len(t, dest.batches, 1)
	assert.Equal(t, "3", dest.batches[0][0].ID)
	assert.EqualValues(t, 3, res.ProcessedCount)
	assert.Equal(t, 1, res.Documents)
	assert.False(t, res.Restarted)
}

func TestEngine_RestartsOnceWhenCursorExpires(t *testing.T) {
	src := &fakeSource{
		schema:   CollectionSchema{"msg": FieldKeyword},
		docs:     threeDocs(),
		fetchErr: map[int]error{0: fmt.Errorf("scroll: %w", ErrCursorExpired)},
	}
	dest := newFakeDest()
	store := newMemStore()
	store.cps["idx"] = Checkpoint{Cursor: strp("2"), ProcessedCount: 2}

	res, err := newTestEngine(src, dest, store, 10).Run(context.Background(), "idx")
	require.NoError(t, err)

	assert.True(t, res.Restarted)
	assert.Nil(t, src.fetches[1], "restart must fetch without a cursor")
	require.Len(t, store.saves, 2)
	assert.True(t, store.saves[0].IsZero(), "reset checkpoint is saved first")
	assert.EqualValues(t, 3, store.saves[1].ProcessedCount)
	assert.EqualValues(t, 3, res.ProcessedCount)
}

func TestEngine_ExpiredCursorWithoutCheckpointFails(t *testing.T) {
	src := &fakeSource{
		schema:   CollectionSchema{},
		docs:     threeDocs(),
		fetchErr: map[int]error{0: ErrCursorExpired},
	}
	dest := newFakeDest()

	res, err := newTestEngine(src, dest, newMemStore(), 2).Run(context.Background(), "idx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCursorExpired)
	assert.Equal(t, StateFailed, res.State)

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatePageFetch, se.Phase)
	assert.Equal(t, "idx", se.Collection)
}

func TestEngine_SecondExpiryIsFatal(t *testing.T) {
	expired := fmt.Errorf("scroll: %w", ErrCursorExpired)
	src := &fakeSource{
		schema:   CollectionSchema{"msg": FieldKeyword},
		docs:     threeDocs(),
		fetchErr: map[int]error{0: expired, 2: expired},
	}
	dest := newFakeDest()
	store := newMemStore()
	store.cps["idx"] = Checkpoint{Cursor: strp("2"), ProcessedCount: 2}

	_, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.ErrorIs(t, err, ErrCursorExpired)

	final := store.cps["idx"]
	require.NotNil(t, final.Cursor)
	assert.Equal(t, "2", *final.Cursor)
	assert.EqualValues(t, 2, final.ProcessedCount)
}

func TestEngine_WriteFailureKeepsLastCheckpoint(t *testing.T) {
	boom := errors.New("disk full")
	src := &fakeSource{schema: CollectionSchema{"msg": FieldKeyword}, docs: threeDocs()}
	dest := newFakeDest()
	dest.insertErr = map[int]error{1: boom}
	store := newMemStore()

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.ErrorIs(t, err, boom)

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatePageWrite, se.Phase)
	assert.Equal(t, StateFailed, res.State)

	final := store.cps["idx"]
	require.NotNil(t, final.Cursor)
	assert.Equal(t, "2", *final.Cursor)
	assert.EqualValues(t, 2, final.ProcessedCount)
	assert.Equal(t, []int64{2, 2}, processed(store.saves))

	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, dest.closed)
}

func TestEngine_CheckpointSaveFailureOnErrorPathIsJoined(t *testing.T) {
	boom := errors.New("insert failed")
	saveErr := errors.New("read-only file system")
	src := &fakeSource{schema: CollectionSchema{}, docs: threeDocs()}
	dest := newFakeDest()
	dest.insertErr = map[int]error{0: boom}
	store := newMemStore()
	store.saveErr = saveErr

	_, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, saveErr)
}

func TestEngine_SchemaFailure(t *testing.T) {
	src := &fakeSource{schemaErr: errors.New("index not found")}
	dest := newFakeDest()
	store := newMemStore()

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.Error(t, err)

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateInit, se.Phase)
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, dest.creates)
	assert.Empty(t, store.saves)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, dest.closed)
}

func TestEngine_ExistingTableIsNotRecreated(t *testing.T) {
	src := &fakeSource{schema: CollectionSchema{"msg": FieldKeyword, "extra": FieldLong}, docs: threeDocs()}
	dest := newFakeDest()
	dest.tables["idx"] = []ColumnDef{{Name: "id", Type: ColumnID, PrimaryKey: true}}
	dest.rows["idx"] = map[string]Document{}

	res, err := newTestEngine(src, dest, newMemStore(), 5).Run(context.Background(), "idx")
	require.NoError(t, err)
	assert.False(t, res.TableCreated)
	assert.Zero(t, dest.creates)
	assert.Len(t, dest.tables["idx"], 1)
	assert.Len(t, dest.rows["idx"], 3)
}

func TestEngine_EmptyCollection(t *testing.T) {
	src := &fakeSource{schema: CollectionSchema{"msg": FieldKeyword}}
	dest := newFakeDest()
	store := newMemStore()

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Zero(t, res.Batches)
	assert.Empty(t, store.saves)
	assert.Contains(t, dest.tables, "idx")
}

func TestEngine_PageWithoutCursorIsLast(t *testing.T) {
	src := &fakeSource{schema: CollectionSchema{}, docs: threeDocs(), lastNil: true}
	dest := newFakeDest()
	store := newMemStore()

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.NoError(t, err)
	assert.Len(t, src.fetches, 2)
	assert.Equal(t, 2, res.Batches)
	assert.Nil(t, store.cps["idx"].Cursor)
	assert.EqualValues(t, 3, store.cps["idx"].ProcessedCount)
}

func TestEngine_NormalizesBeforeWrite(t *testing.T) {
	src := &fakeSource{
		schema: CollectionSchema{"at": FieldDate, "meta": FieldObject},
		docs: []Document{doc("1", map[string]Value{
			"at":   String("2024-01-15T10:30:00.123Z"),
			"meta": Map(map[string]Value{"b": Int(2), "a": String("x")}),
		})},
	}
	dest := newFakeDest()

	_, err := newTestEngine(src, dest, newMemStore(), 10).Run(context.Background(), "idx")
	require.NoError(t, err)

	got := dest.rows["idx"]["1"]
	assert.Equal(t, String("2024-01-15 10:30:00"), got.Fields["at"])
	assert.Equal(t, String(`{"a":"x","b":2}`), got.Fields["meta"])
	// Source documents are left untouched.
	assert.Equal(t, KindMap, src.docs[0].Fields["meta"].Kind)
}

func TestEngine_RejectsNonPositiveBatchSize(t *testing.T) {
	src := &fakeSource{}
	dest := newFakeDest()

	_, err := newTestEngine(src, dest, newMemStore(), 0).Run(context.Background(), "idx")
	require.Error(t, err)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, dest.closed)
}

func TestEngine_CheckpointLoadFailure(t *testing.T) {
	src := &fakeSource{schema: CollectionSchema{}, docs: threeDocs()}
	dest := newFakeDest()
	store := newMemStore()
	store.loadErr = errors.New("corrupt")

	res, err := newTestEngine(src, dest, store, 2).Run(context.Background(), "idx")
	require.Error(t, err)

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StateSchemaReady, se.Phase)
	assert.Empty(t, src.fetches)
	assert.Equal(t, StateFailed, res.State)
}
