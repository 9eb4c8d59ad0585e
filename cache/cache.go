// Package cache implements the mirror's on-disk crate cache: a flat
// <root>/<name>/<version> file layout with no index and no metadata
// sidecar (cache entries never expire and are never evicted). Writes
// are made atomic with a temp-file-plus-rename so a reader can never
// observe a partially written crate.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/omalloc/crateproxy/wire"
)

// ErrNotFound is returned by Open when the requested package/version
// pair has no cached file.
var ErrNotFound = errors.New("cache: not found")

// Cache is a handle on the on-disk cache root.
type Cache struct {
	root      string
	writeRate *ratecounter.RateCounter
}

// New returns a Cache rooted at dir. dir is created if it does not
// already exist.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}
	return &Cache{root: dir, writeRate: ratecounter.NewRateCounter(time.Second)}, nil
}

// WriteRate reports the cache's rolling bytes-written-per-second over
// the last second, across every Put.
func (c *Cache) WriteRate() int64 {
	return c.writeRate.Rate()
}

func (c *Cache) pkgDir(name string) string {
	return filepath.Join(c.root, name)
}

func (c *Cache) path(id wire.PackageId) string {
	return filepath.Join(c.pkgDir(id.Name), id.Version)
}

// Has reports whether id is cached. Any stat error other than
// "not exist" is treated as present, per spec: an unreadable file is
// not the same thing as a missing one, and should surface as a read
// failure rather than trigger a redundant re-download.
func (c *Cache) Has(id wire.PackageId) bool {
	_, err := os.Stat(c.path(id))
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrNotExist)
}

// Missing filters ids down to the subset not present in the cache.
func (c *Cache) Missing(ids []wire.PackageId) []wire.PackageId {
	var missing []wire.PackageId
	for _, id := range ids {
		if !c.Has(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Open returns a ReadCloser for the cached content of id, or
// ErrNotFound if it is not cached.
func (c *Cache) Open(id wire.PackageId) (io.ReadCloser, int64, error) {
	f, err := os.Open(c.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("cache: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("cache: stat: %w", err)
	}
	return f, info.Size(), nil
}

// Put atomically writes content as the cached file for id. If the
// destination already exists Put returns ErrExists without touching
// it; the caller decides whether that is worth logging. This is the
// cache's only writer: control-plane uploads deliver a crate's whole
// content as one []byte, so there is no partial write to stream.
var ErrExists = errors.New("cache: already present")

func (c *Cache) Put(id wire.PackageId, content []byte) error {
	dir := c.pkgDir(id.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: create package dir: %w", err)
	}

	dest := c.path(id)
	if _, err := os.Stat(dest); err == nil {
		return ErrExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: stat: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+id.Version+"-*")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	c.writeRate.Incr(int64(len(content)))
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("cache: rename into place: %w", err)
	}
	return nil
}
