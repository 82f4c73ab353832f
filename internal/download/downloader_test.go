package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferedge/browsercore/internal/cache"
	"github.com/inferedge/browsercore/internal/errs"
)

func openStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestDownloadSucceedsAndCommits(t *testing.T) {
	body := []byte("model weights go here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	store := openStore(t)
	dl := New(store, srv.Client())

	var lastProgress Progress
	got, err := dl.Download(context.Background(), Descriptor{
		ModelID: "m1", URL: srv.URL, SizeBytes: int64(len(body)), ChecksumHex: checksumOf(body),
	}, func(p Progress) { lastProgress = p })

	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, 100, lastProgress.Percentage)

	entry, ok, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, entry.Data)
}

func TestDownloadRetriesOnTransientFailureThenSucceeds(t *testing.T) {
	body := []byte("retry-then-succeed")
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close() // simulate a transient network fault
				return
			}
		}
		w.Write(body)
	}))
	defer srv.Close()

	store := openStore(t)
	dl := New(store, srv.Client())

	got, err := dl.Download(context.Background(), Descriptor{
		ModelID: "m2", URL: srv.URL, SizeBytes: int64(len(body)), ChecksumHex: checksumOf(body),
	}, func(Progress) {})

	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestDownloadFailsOnChecksumMismatch(t *testing.T) {
	body := []byte("tampered")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	store := openStore(t)
	dl := New(store, srv.Client())

	_, err := dl.Download(context.Background(), Descriptor{
		ModelID: "m3", URL: srv.URL, ChecksumHex: "0000000000000000000000000000000000000000000000000000000000000000"[:64],
	}, func(Progress) {})

	require.Error(t, err)
	assert.Equal(t, errs.ChecksumMismatch, errs.KindOf(err))

	_, ok, _ := store.Get(context.Background(), "m3")
	assert.False(t, ok)
}

func TestDownloadFailsImmediatelyOnHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := openStore(t)
	dl := New(store, srv.Client())

	_, err := dl.Download(context.Background(), Descriptor{ModelID: "m4", URL: srv.URL}, func(Progress) {})
	require.Error(t, err)
	assert.Equal(t, errs.Http, errs.KindOf(err))
}

func TestDownloadCancellationIsDistinguishable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-block
	}))
	defer func() { close(block); srv.Close() }()

	store := openStore(t)
	dl := New(store, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := dl.Download(ctx, Descriptor{ModelID: "m5", URL: srv.URL}, func(Progress) {})
	require.Error(t, err)
	assert.Equal(t, errs.Cancelled, errs.KindOf(err))
}

func TestCacheHitAvoidsNetworkCall(t *testing.T) {
	body := []byte("cached bytes")
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(body)
	}))
	defer srv.Close()

	store := openStore(t)
	require.NoError(t, store.Put(context.Background(), cache.Entry{ModelID: "m6", Data: body, Timestamp: time.Now()}))

	dl := New(store, srv.Client())
	got, err := dl.Download(context.Background(), Descriptor{
		ModelID: "m6", URL: srv.URL, ChecksumHex: checksumOf(body),
	}, func(Progress) {})

	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
