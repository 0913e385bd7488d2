// Package fileaccess provides the filesystem views used by the library engine
package fileaccess

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prismon/photo-library/pkg/logger"
)

var log = logger.WithName("fileaccess")

// QuickHashSize is the number of leading bytes fingerprinted by QuickHash
const QuickHashSize = 64 * 1024

// ErrUnresolvable is returned when a bookmark no longer points at a file
var ErrUnresolvable = errors.New("bookmark cannot be resolved")

// bookmarkToken is the persisted form of an OS bookmark
type bookmarkToken struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// OS implements file access against the local filesystem. Bookmarks record
// the file's path, size and modification time; a bookmark whose file changed
// since it was created resolves as stale.
type OS struct{}

func NewOS() *OS {
	return &OS{}
}

func (o *OS) CreateBookmark(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", abs)
	}
	return json.Marshal(bookmarkToken{Path: abs, Size: info.Size(), ModTime: info.ModTime().UTC()})
}

func (o *OS) Resolve(bookmark []byte) (string, bool, error) {
	var tok bookmarkToken
	if err := json.Unmarshal(bookmark, &tok); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	info, err := os.Stat(tok.Path)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	stale := info.Size() != tok.Size || !info.ModTime().UTC().Equal(tok.ModTime)
	return tok.Path, stale, nil
}

func (o *OS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Stat returns the file size and, lacking a portable birth time, its modification time
func (o *OS) Stat(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	if info.IsDir() {
		return 0, time.Time{}, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), info.ModTime().UTC(), nil
}

func (o *OS) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// QuickHash returns the hex SHA-256 of the first QuickHashSize bytes
func (o *OS) QuickHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashPrefix(f, QuickHashSize)
}

// HashPrefix hashes at most n bytes of r; n <= 0 hashes everything
func HashPrefix(r io.Reader, n int64) (string, error) {
	h := sha256.New()
	if n > 0 {
		r = io.LimitReader(r, n)
	}
	if _, err := io.Copy(h, r); err != nil {
		log.WithError(err).Debug("Hashing failed")
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
