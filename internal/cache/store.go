package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// Store 管理以名称区分的多个缓存。名称即版本号（例如 cst-exam-v4），
// 同一时刻只有一个名称是“当前版本”，其余均视为过期，由 activate 阶段清理。
type Store interface {
	// Open 打开（不存在则创建）指定名称的缓存。
	Open(name string) (Cache, error)

	// Names 枚举磁盘上现存的全部缓存名称。
	Names() ([]string, error)

	// Drop 整体删除一个缓存，返回是否确实存在。
	Drop(name string) (bool, error)
}

// Cache 是单个命名缓存的读写视图。键为请求标识（方法 + 路径），
// 值为捕获的完整响应（状态码、头部、正文）。
type Cache interface {
	// Name 返回缓存名称。
	Name() string

	// Match 按键查找缓存条目。未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*ReadResult, error)

	// Put 写入一条捕获的响应。实现需通过临时文件 + rename 保证原子性，
	// 对同一 key 重复写入只是覆盖，不会产生重复条目。
	Put(ctx context.Context, key Key, meta Metadata, body io.Reader) (*Entry, error)

	// Remove 删除单个条目，条目不存在时不视为错误。
	Remove(ctx context.Context, key Key) error
}

// Key 唯一定位一个缓存条目：请求方法 + URL 路径（查询串由调用方折叠进路径）。
type Key struct {
	Method string
	Path   string
}

// NormalizeKey 规整方法与路径，保证同一请求总是映射到同一条目。
func NormalizeKey(method, rawPath string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if rawPath == "" {
		rawPath = "/"
	}
	return Key{
		Method: method,
		Path:   path.Clean("/" + rawPath),
	}
}

// Metadata 描述捕获响应的非正文部分，随正文一起落盘。
type Metadata struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
}

// Entry 表示一次缓存写入/命中结果，包含绝对文件路径及元数据。
type Entry struct {
	Key       Key      `json:"key"`
	CacheName string   `json:"cache_name"`
	FilePath  string   `json:"file_path"`
	SizeBytes int64    `json:"size_bytes"`
	Metadata  Metadata `json:"metadata"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
