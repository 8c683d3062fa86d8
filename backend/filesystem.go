package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const (
	fsEntrySuffix   = ".ws"
	fsPruneParallel = 8
)

// fsEntry is the on-disk envelope for a cached value. A zero
// ExpiresAt means the entry never expires.
type fsEntry struct {
	ExpiresAt time.Time
	Value     []byte
}

// Filesystem stores one file per entry under a directory. Filenames
// are the hex SHA-256 of the key, so keys never touch the filesystem
// namespace. When the entry count grows past the threshold, expired
// files are pruned first, then the oldest by modification time.
type Filesystem struct {
	dir       string
	threshold int
	count     atomic.Int64

	// guards read-modify-write cycles (Add, Inc/Dec)
	mu sync.Mutex
}

// NewFilesystem creates a filesystem backend rooted at dir, creating
// the directory if needed. threshold bounds the number of entry
// files; 0 means unbounded.
func NewFilesystem(dir string, threshold int) (*Filesystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("filesystem backend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filesystem backend: %w", err)
	}

	f := &Filesystem{dir: dir, threshold: threshold}
	f.count.Store(int64(len(f.entryPaths())))
	return f, nil
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := f.readEntry(f.path(key))
	if err != nil {
		return nil, err
	}
	if entry.expired(time.Now()) {
		f.removeFile(f.path(key))
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

func (f *Filesystem) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	for i, key := range keys {
		value, err := f.Get(ctx, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}

func (f *Filesystem) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return f.writeEntry(key, value, ttl)
}

func (f *Filesystem) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		if err := f.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filesystem) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ok, err := f.Has(ctx, key); err != nil {
		return err
	} else if ok {
		return ErrExists
	}
	return f.writeEntry(key, value, ttl)
}

func (f *Filesystem) Delete(_ context.Context, key string) error {
	f.removeFile(f.path(key))
	return nil
}

func (f *Filesystem) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := f.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filesystem) Has(_ context.Context, key string) (bool, error) {
	entry, err := f.readEntry(f.path(key))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if entry.expired(time.Now()) {
		f.removeFile(f.path(key))
		return false, nil
	}
	return true, nil
}

func (f *Filesystem) Clear(_ context.Context) error {
	for _, path := range f.entryPaths() {
		f.removeFile(path)
	}
	return nil
}

func (f *Filesystem) Inc(ctx context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var current int64
	ttl := time.Duration(-1)
	entry, err := f.readEntry(f.path(key))
	switch {
	case err == ErrNotFound:
	case err != nil:
		return 0, err
	case entry.expired(time.Now()):
	default:
		n, perr := strconv.ParseInt(string(entry.Value), 10, 64)
		if perr != nil {
			return 0, ErrNotNumber
		}
		current = n
		if !entry.ExpiresAt.IsZero() {
			ttl = time.Until(entry.ExpiresAt)
		}
	}

	current += delta
	if err := f.writeEntry(key, []byte(strconv.FormatInt(current, 10)), ttl); err != nil {
		return 0, err
	}
	return current, nil
}

func (f *Filesystem) Dec(ctx context.Context, key string, delta int64) (int64, error) {
	return f.Inc(ctx, key, -delta)
}

func (f *Filesystem) Close() error { return nil }

func (f *Filesystem) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+fsEntrySuffix)
}

func (e *fsEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func (f *Filesystem) readEntry(path string) (*fsEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("filesystem backend: %w", err)
	}

	var entry fsEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		// Corrupt entry, treat as a miss and drop it.
		f.removeFile(path)
		return nil, ErrNotFound
	}
	return &entry, nil
}

// writeEntry writes to a temp file and renames it into place so
// concurrent readers never observe a partial entry.
func (f *Filesystem) writeEntry(key string, value []byte, ttl time.Duration) error {
	entry := fsEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&entry); err != nil {
		return fmt.Errorf("filesystem backend: encode: %w", err)
	}

	path := f.path(key)
	tmp, err := os.CreateTemp(f.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("filesystem backend: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("filesystem backend: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filesystem backend: %w", err)
	}

	_, statErr := os.Stat(path)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filesystem backend: %w", err)
	}
	if statErr != nil {
		// Fresh key rather than an overwrite.
		f.count.Add(1)
	}

	if f.threshold > 0 && f.count.Load() > int64(f.threshold) {
		f.prune()
	}
	return nil
}

func (f *Filesystem) removeFile(path string) {
	if err := os.Remove(path); err == nil {
		f.count.Add(-1)
	}
}

func (f *Filesystem) entryPaths() []string {
	matches, _ := filepath.Glob(filepath.Join(f.dir, "*"+fsEntrySuffix))
	return matches
}

type fsFileInfo struct {
	path    string
	modTime time.Time
	expired bool
}

// prune drops expired entries first, then the oldest remaining files
// until the count is back under the threshold. Files are inspected
// with bounded parallelism since a full sweep touches every entry.
func (f *Filesystem) prune() {
	paths := f.entryPaths()
	now := time.Now()

	var mu sync.Mutex
	infos := make([]fsFileInfo, 0, len(paths))

	p := pool.New().WithMaxGoroutines(fsPruneParallel)
	for _, path := range paths {
		p.Go(func() {
			fi, err := os.Stat(path)
			if err != nil {
				return
			}
			info := fsFileInfo{path: path, modTime: fi.ModTime()}
			if entry, err := f.readEntry(path); err == nil && entry.expired(now) {
				info.expired = true
			}
			mu.Lock()
			infos = append(infos, info)
			mu.Unlock()
		})
	}
	p.Wait()

	remaining := len(infos)
	for _, info := range infos {
		if info.expired {
			f.removeFile(info.path)
			remaining--
		}
	}
	if remaining <= f.threshold {
		f.count.Store(int64(remaining))
		return
	}

	live := infos[:0]
	for _, info := range infos {
		if !info.expired {
			live = append(live, info)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].modTime.Before(live[j].modTime) })

	for _, info := range live[:remaining-f.threshold] {
		f.removeFile(info.path)
	}
	f.count.Store(int64(len(f.entryPaths())))
}
