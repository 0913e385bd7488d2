package fileaccess

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type memFile struct {
	id      int64
	data    []byte
	modTime time.Time
}

type memBookmark struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// Memory is an in-memory filesystem. Its bookmarks follow a file across
// Move, the way OS-level bookmarks follow an inode.
type Memory struct {
	mu     sync.RWMutex
	files  map[string]*memFile
	nextID int64
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]*memFile)}
}

// Add creates or overwrites a file
func (m *Memory) Add(path string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		f.data = bytes.Clone(data)
		f.modTime = modTime
		return
	}
	m.nextID++
	m.files[path] = &memFile{id: m.nextID, data: bytes.Clone(data), modTime: modTime}
}

func (m *Memory) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// Move renames a file, keeping its identity
func (m *Memory) Move(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[from]
	if !ok {
		return &os.PathError{Op: "move", Path: from, Err: os.ErrNotExist}
	}
	delete(m.files, from)
	m.files[to] = f
	return nil
}

func (m *Memory) CreateBookmark(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, &os.PathError{Op: "bookmark", Path: path, Err: os.ErrNotExist}
	}
	return json.Marshal(memBookmark{ID: f.id, Path: path})
}

// Resolve finds the file the bookmark was created for; stale means it moved
func (m *Memory) Resolve(bookmark []byte) (string, bool, error) {
	var bm memBookmark
	if err := json.Unmarshal(bookmark, &bm); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.files[bm.Path]; ok && f.id == bm.ID {
		return bm.Path, false, nil
	}
	for path, f := range m.files {
		if f.id == bm.ID {
			return path, true, nil
		}
	}
	return "", false, ErrUnresolvable
}

func (m *Memory) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}

func (m *Memory) Stat(path string) (int64, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return 0, time.Time{}, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
	return int64(len(f.data)), f.modTime, nil
}

func (m *Memory) Open(path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(f.data))), nil
}

func (m *Memory) QuickHash(path string) (string, error) {
	r, err := m.Open(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return HashPrefix(r, QuickHashSize)
}
