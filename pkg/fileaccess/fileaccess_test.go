package fileaccess

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSBookmarkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "IMG_0001.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))

	fa := NewOS()
	mark, err := fa.CreateBookmark(path)
	require.NoError(t, err)

	resolved, stale, err := fa.Resolve(mark)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.False(t, stale)

	t.Run("modified file is stale", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("edited jpeg bytes"), 0o644))
		_, stale, err := fa.Resolve(mark)
		require.NoError(t, err)
		assert.True(t, stale)
	})

	t.Run("deleted file does not resolve", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		_, _, err := fa.Resolve(mark)
		assert.ErrorIs(t, err, ErrUnresolvable)
		assert.False(t, fa.Exists(path))
	})

	t.Run("garbage bookmark", func(t *testing.T) {
		_, _, err := fa.Resolve([]byte("not json"))
		assert.ErrorIs(t, err, ErrUnresolvable)
	})
}

func TestOSStatAndQuickHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	data := bytes.Repeat([]byte{0xAB}, QuickHashSize+100)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fa := NewOS()
	size, _, err := fa.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	_, _, err = fa.Stat(dir)
	assert.Error(t, err, "directories are not assets")
	assert.False(t, fa.Exists(dir))

	sum := sha256.Sum256(data[:QuickHashSize])
	hash, err := fa.QuickHash(path)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
}

func TestHashPrefixWholeReader(t *testing.T) {
	data := []byte("hello")
	sum := sha256.Sum256(data)
	hash, err := HashPrefix(bytes.NewReader(data), 0)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
}

func TestMemoryFollowsMovedFiles(t *testing.T) {
	m := NewMemory()
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.Add("/photos/a.jpg", []byte("aaa"), mod)

	mark, err := m.CreateBookmark("/photos/a.jpg")
	require.NoError(t, err)

	path, stale, err := m.Resolve(mark)
	require.NoError(t, err)
	assert.Equal(t, "/photos/a.jpg", path)
	assert.False(t, stale)

	require.NoError(t, m.Move("/photos/a.jpg", "/archive/a.jpg"))
	assert.False(t, m.Exists("/photos/a.jpg"))

	path, stale, err = m.Resolve(mark)
	require.NoError(t, err)
	assert.Equal(t, "/archive/a.jpg", path)
	assert.True(t, stale)

	m.Remove("/archive/a.jpg")
	_, _, err = m.Resolve(mark)
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestMemoryReadAndStat(t *testing.T) {
	m := NewMemory()
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.Add("/p/b.heic", []byte("bbbb"), mod)

	size, created, err := m.Stat("/p/b.heic")
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
	assert.Equal(t, mod, created)

	r, err := m.Open("/p/b.heic")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("bbbb"), got)

	_, err = m.Open("/p/nope.jpg")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, _, err = m.Stat("/p/nope.jpg")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Error(t, m.Move("/p/nope.jpg", "/q.jpg"))
}
