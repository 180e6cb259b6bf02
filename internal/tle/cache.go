package tle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrNoCatalog is returned by Cache.LoadLatest when the directory holds no
// catalog files.
var ErrNoCatalog = errors.New("no cached catalog files")

const (
	filePrefix = "tle_"
	fileSuffix = ".txt"
)

// Cache keeps catalog snapshots on disk as tle_<unix>.txt files, newest
// maxFiles retained.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache rooted at dir. maxFiles <= 0 keeps five files.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Write stores data as the catalog fetched at ts and prunes older files.
// The file is written under a temporary name and renamed into place so a
// concurrent LoadLatest never reads a partial catalog.
func (c *Cache) Write(data []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	name := filePrefix + strconv.FormatInt(ts.Unix(), 10) + fileSuffix
	tmp, err := os.CreateTemp(c.dir, ".tle-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming cache file: %w", err)
	}

	return c.prune()
}

// LoadLatest reads the newest catalog file and the time it was fetched.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.files()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w in %s", ErrNoCatalog, c.dir)
	}

	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, latest.fetchedAt, nil
}

type catalogFile struct {
	name      string
	fetchedAt time.Time
}

// files lists catalog files oldest first. A missing directory is empty.
func (c *Cache) files() ([]catalogFile, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []catalogFile
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		stamp, ok := strings.CutPrefix(e.Name(), filePrefix)
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, fileSuffix)
		if !ok {
			continue
		}
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, catalogFile{name: e.Name(), fetchedAt: time.Unix(unix, 0)})
	}

	slices.SortFunc(files, func(a, b catalogFile) int {
		return a.fetchedAt.Compare(b.fetchedAt)
	})
	return files, nil
}

func (c *Cache) prune() error {
	files, err := c.files()
	if err != nil {
		return err
	}
	if len(files) <= c.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", f.name, err)
		}
	}
	return nil
}
