package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := Entry{ModelID: "model-a", Metadata: []byte(`{"name":"a"}`), Data: []byte("weights"), Timestamp: time.Now()}
	require.NoError(t, s.Put(ctx, e))

	got, ok, err := s.Get(ctx, "model-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.ModelID, got.ModelID)
	assert.Equal(t, e.Data, got.Data)
}

func TestGetMissReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{ModelID: "m", Data: []byte("v1"), Timestamp: time.Now()}))
	require.NoError(t, s.Put(ctx, Entry{ModelID: "m", Data: []byte("v2"), Timestamp: time.Now()}))

	got, ok, err := s.Get(ctx, "m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got.Data)
}

func TestPurgeTempRemovesOnlyTempKeyspace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{ModelID: TempKey("dl-1"), Data: []byte("partial"), Timestamp: time.Now()}))
	require.NoError(t, s.Put(ctx, Entry{ModelID: "real-model", Data: []byte("full"), Timestamp: time.Now()}))

	require.NoError(t, s.PurgeTemp(ctx))

	_, ok, err := s.Get(ctx, TempKey("dl-1"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, "real-model")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListExcludesTempKeyspace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{ModelID: TempKey("dl-1"), Data: []byte("x"), Timestamp: time.Now()}))
	require.NoError(t, s.Put(ctx, Entry{ModelID: "m1", Data: []byte("x"), Timestamp: time.Now()}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ModelID)
}

func TestTotalSizeSumsPayloads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Entry{ModelID: "a", Data: make([]byte, 10), Timestamp: time.Now()}))
	require.NoError(t, s.Put(ctx, Entry{ModelID: "b", Data: make([]byte, 20), Timestamp: time.Now()}))

	total, err := s.TotalSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
}

func TestEstimateQuotaClampedAtOne(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Entry{ModelID: "a", Data: make([]byte, 100), Timestamp: time.Now()}))

	frac, err := s.EstimateQuota(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, frac)
}

func TestClearRemovesEverythingIncludingTemp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Entry{ModelID: TempKey("x"), Data: []byte("x"), Timestamp: time.Now()}))
	require.NoError(t, s.Put(ctx, Entry{ModelID: "m", Data: []byte("x"), Timestamp: time.Now()}))

	require.NoError(t, s.Clear(ctx))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	total, err := s.TotalSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
