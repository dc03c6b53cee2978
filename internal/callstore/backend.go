package callstore

import (
	"encoding/hex"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Backend is a pluggable key-value storage for reconnection records. The
// choice of backend is a configuration input; it is not switched mid-session.
type Backend interface {
	// Read returns the stored bytes for key, with ok=false when absent.
	Read(key string) ([]byte, bool, error)
	Write(key string, data []byte) error
	Delete(key string) error
}

// MemoryBackend keeps records in process memory. Records live exactly as
// long as the widget instance, the ephemeral analog of per-tab session
// storage.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (b *MemoryBackend) Read(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (b *MemoryBackend) Write(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	b.entries[key] = stored
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// DefaultTTL bounds how long a durable record stays readable.
const DefaultTTL = time.Hour

// FileBackend keeps records on disk so they survive a restart, with a fixed
// short TTL enforced on read. This is the durable analog of the cross-page
// cookie backend.
type FileBackend struct {
	dir string
	ttl time.Duration
}

// NewFileBackend creates a file backend rooted at dir, creating it if
// needed. A non-positive ttl falls back to DefaultTTL.
func NewFileBackend(dir string, ttl time.Duration) (*FileBackend, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir, ttl: ttl}, nil
}

func (b *FileBackend) path(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return filepath.Join(b.dir, hex.EncodeToString(h.Sum(nil))+".json")
}

func (b *FileBackend) Read(key string) ([]byte, bool, error) {
	path := b.path(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Since(info.ModTime()) > b.ttl {
		os.Remove(path)
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *FileBackend) Write(key string, data []byte) error {
	return os.WriteFile(b.path(key), data, 0o600)
}

func (b *FileBackend) Delete(key string) error {
	err := os.Remove(b.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
