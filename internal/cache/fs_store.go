package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// NewStore 以 basePath 为根目录构建磁盘缓存仓库，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsStore 通过 entryLock 避免同一条目并发写入，锁按 <name>::<method>::<path> 粒度分配。
type fsStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fsStore) Open(name string) (Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fsCache{store: s, name: name, dir: dir}, nil
}

func (s *fsStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *fsStore) Drop(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

// validateName 拒绝可能逃逸出存储根目录的名称；配置层已做同样校验，这里兜底。
func validateName(name string) error {
	if name == "" {
		return errors.New("cache name required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid cache name: %s", name)
	}
	return nil
}

// fsCache 是单个命名缓存的磁盘实现，条目布局为 <dir>/<METHOD>/<path>.body + .meta。
type fsCache struct {
	store *fsStore
	name  string
	dir   string
}

func (c *fsCache) Name() string {
	return c.name
}

func (c *fsCache) Match(ctx context.Context, key Key) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, metaPath, err := c.entryPaths(key)
	if err != nil {
		return nil, err
	}

	rawMeta, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Key:       key,
		CacheName: c.name,
		FilePath:  bodyPath,
		SizeBytes: info.Size(),
		Metadata:  meta,
	}

	return &ReadResult{Entry: entry, Reader: f}, nil
}

func (c *fsCache) Put(ctx context.Context, key Key, meta Metadata, body io.Reader) (*Entry, error) {
	unlock := c.store.lockEntry(c.name, key)
	defer unlock()

	bodyPath, metaPath, err := c.entryPaths(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return nil, err
	}

	written, err := writeAtomic(ctx, bodyPath, body)
	if err != nil {
		return nil, err
	}

	if meta.StoredAt.IsZero() {
		meta.StoredAt = time.Now().UTC()
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		os.Remove(bodyPath)
		return nil, fmt.Errorf("encode cache metadata: %w", err)
	}
	if _, err := writeAtomic(ctx, metaPath, strings.NewReader(string(rawMeta))); err != nil {
		os.Remove(bodyPath)
		return nil, err
	}

	entry := Entry{
		Key:       key,
		CacheName: c.name,
		FilePath:  bodyPath,
		SizeBytes: written,
		Metadata:  meta,
	}
	return &entry, nil
}

func (c *fsCache) Remove(ctx context.Context, key Key) error {
	unlock := c.store.lockEntry(c.name, key)
	defer unlock()

	bodyPath, metaPath, err := c.entryPaths(key)
	if err != nil {
		return err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// entryPaths 将 Key 映射为正文与元数据文件路径，并阻止路径穿越。
func (c *fsCache) entryPaths(key Key) (string, string, error) {
	normalized := NormalizeKey(key.Method, key.Path)

	rel := strings.TrimPrefix(normalized.Path, "/")
	if rel == "" {
		rel = "root"
	}

	base := filepath.Join(c.dir, normalized.Method, filepath.FromSlash(rel))
	if !strings.HasPrefix(base, filepath.Join(c.dir, normalized.Method)) {
		return "", "", errors.New("invalid cache path")
	}
	return base + bodySuffix, base + metaSuffix, nil
}

func (s *fsStore) lockEntry(name string, key Key) func() {
	lockKey := name + "::" + key.Method + "::" + key.Path
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

// writeAtomic 经由临时文件写入并 rename 到位，失败时清理临时文件。
func writeAtomic(ctx context.Context, dest string, src io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(dest), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, src)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, dest); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
