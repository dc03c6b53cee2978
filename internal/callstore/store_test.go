package callstore

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxloop/widget-core/internal/model"
)

const testKey = "voxloop_call_data"

func newMemoryStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	return New(backend, testKey, nil), backend
}

func TestStoreAndRetrieve(t *testing.T) {
	store, _ := newMemoryStore(t)

	call := &model.Call{ID: "call-1", WebCallURL: "wss://example.com/call/ws/call-1"}
	store.Store(call, "assistant-1")

	record := store.Retrieve()
	require.NotNil(t, record)
	assert.Equal(t, "call-1", record.ID)
	assert.Equal(t, call.WebCallURL, record.WebCallURL)
	assert.Less(t, record.Age(), time.Minute)
	assert.True(t, model.CallOptionsEqual(record.CallOptions, "assistant-1"))
}

func TestStoreSkipsCallWithoutReconnectionHandle(t *testing.T) {
	store, backend := newMemoryStore(t)

	store.Store(&model.Call{ID: "call-1"}, nil)
	store.Store(nil, nil)

	_, ok, err := backend.Read(testKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, store.Retrieve())
}

func TestRetrieveClearsCorruptRecord(t *testing.T) {
	store, backend := newMemoryStore(t)

	require.NoError(t, backend.Write(testKey, []byte("{not json")))
	assert.Nil(t, store.Retrieve())

	// The corrupt entry must be gone, not just skipped.
	_, ok, err := backend.Read(testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetrieveClearsRecordWithoutWebCallURL(t *testing.T) {
	store, backend := newMemoryStore(t)

	require.NoError(t, backend.Write(testKey, []byte(`{"id":"call-1","timestamp":1}`)))
	assert.Nil(t, store.Retrieve())

	_, ok, err := backend.Read(testKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearIsIdempotent(t *testing.T) {
	store, _ := newMemoryStore(t)

	store.Store(&model.Call{WebCallURL: "wss://example.com/ws"}, nil)
	store.Clear()
	store.Clear()
	assert.Nil(t, store.Retrieve())
}

func TestFileBackendRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), DefaultTTL)
	require.NoError(t, err)

	store := New(backend, testKey, nil)
	store.Store(&model.Call{ID: "call-2", WebCallURL: "wss://example.com/ws"}, "a2")

	record := store.Retrieve()
	require.NotNil(t, record)
	assert.Equal(t, "call-2", record.ID)

	store.Clear()
	assert.Nil(t, store.Retrieve())
}

func TestFileBackendExpiresOldRecords(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, time.Hour)
	require.NoError(t, err)

	require.NoError(t, backend.Write(testKey, []byte(`{"webCallUrl":"wss://x"}`)))

	// Age the file past the TTL.
	path := backend.path(testKey)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, ok, err := backend.Read(testKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// The expired file is removed as a side effect of the read.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileBackendMissingKey(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)

	_, ok, err := backend.Read("absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, backend.Delete("absent"))
}
