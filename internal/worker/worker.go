package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/logging"
)

// State 描述一个离线缓存代理实例的生命周期阶段。
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	// StateInstalled 对应 manifest 全部落盘但尚未接管请求的阶段。
	StateInstalled State = "installed"
	StateActive    State = "active"
)

// ErrNotInstalled 表示在 install 完成前调用了 Activate。
var ErrNotInstalled = errors.New("worker is not installed")

// Options 汇总构造 Worker 所需的配置与依赖。
type Options struct {
	Name           string
	CacheName      string
	Precache       []string
	SkipWaiting    bool
	ClaimClients   bool
	Upstream       *url.URL
	Client         *http.Client
	Store          cache.Store
	Logger         *logrus.Logger
	InstallTimeout time.Duration
}

// Worker 是一个站点的离线缓存代理实例，串联 install → activate 生命周期，
// 激活后其缓存交由 proxy 层按策略读写。
type Worker struct {
	opts Options

	mu    sync.Mutex
	state State
	cache cache.Cache
}

// New 校验依赖并返回处于 uninstalled 状态的 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Name == "" {
		return nil, errors.New("worker name required")
	}
	if opts.CacheName == "" {
		return nil, errors.New("cache name required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream url required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}

	return &Worker{
		opts:  opts,
		state: StateUninstalled,
	}, nil
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Name 返回 Worker 名称。
func (w *Worker) Name() string {
	return w.opts.Name
}

// CacheName 返回当前版本的缓存名称。
func (w *Worker) CacheName() string {
	return w.opts.CacheName
}

// PrecacheCount 返回 manifest 条目数，供诊断端输出。
func (w *Worker) PrecacheCount() int {
	return len(w.opts.Precache)
}

// SkipWaiting/ClaimClients 透出部署开关，供诊断端输出。
func (w *Worker) SkipWaiting() bool  { return w.opts.SkipWaiting }
func (w *Worker) ClaimClients() bool { return w.opts.ClaimClients }

// Cache 返回已安装的缓存视图；install 成功前为 nil。
func (w *Worker) Cache() cache.Cache {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache
}

// Install 打开当前版本缓存并逐一抓取 manifest 资源。任一资源失败即整体失败，
// 状态回滚到 uninstalled，已激活的旧版本缓存不受影响。重复 install 幂等。
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateInstalling {
		w.mu.Unlock()
		return errors.New("install already in progress")
	}
	w.state = StateInstalling
	w.mu.Unlock()

	if w.opts.InstallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.InstallTimeout)
		defer cancel()
	}

	fields := logging.LifecycleFields("install", w.opts.Name, w.opts.CacheName)
	fields["assets"] = len(w.opts.Precache)

	opened, err := w.opts.Store.Open(w.opts.CacheName)
	if err != nil {
		w.rollback()
		w.opts.Logger.WithFields(fields).WithError(err).Error("install_failed")
		return fmt.Errorf("open cache %s: %w", w.opts.CacheName, err)
	}

	for _, asset := range w.opts.Precache {
		if err := w.precacheAsset(ctx, opened, asset); err != nil {
			w.rollback()
			fields["asset"] = asset
			w.opts.Logger.WithFields(fields).WithError(err).Error("install_failed")
			return fmt.Errorf("precache %s: %w", asset, err)
		}
	}

	w.mu.Lock()
	w.cache = opened
	w.state = StateInstalled
	w.mu.Unlock()

	w.opts.Logger.WithFields(fields).Info("install_complete")
	return nil
}

// precacheAsset 抓取单个 manifest 资源并写入缓存，非 200 响应视为失败。
func (w *Worker) precacheAsset(ctx context.Context, c cache.Cache, asset string) error {
	target := w.opts.Upstream.ResolveReference(&url.URL{Path: asset})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}

	resp, err := w.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	meta := cache.Metadata{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
	}
	if _, err := c.Put(ctx, cache.NormalizeKey(http.MethodGet, asset), meta, resp.Body); err != nil {
		return err
	}
	return nil
}

func (w *Worker) rollback() {
	w.mu.Lock()
	w.state = StateUninstalled
	w.cache = nil
	w.mu.Unlock()
}

// Activate 清理所有名称不等于当前版本的缓存并进入 active 状态。
// 单个缓存清理失败只记日志，不阻塞激活（不影响请求服务）。
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateInstalled && w.state != StateActive {
		w.mu.Unlock()
		return ErrNotInstalled
	}
	w.mu.Unlock()

	fields := logging.LifecycleFields("activate", w.opts.Name, w.opts.CacheName)

	names, err := w.opts.Store.Names()
	if err != nil {
		w.opts.Logger.WithFields(fields).WithError(err).Warn("stale_enumeration_failed")
	}

	purged := 0
	for _, name := range names {
		if name == w.opts.CacheName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		dropped, err := w.opts.Store.Drop(name)
		if err != nil {
			w.opts.Logger.WithFields(fields).
				WithField("stale_cache", name).
				WithError(err).
				Warn("stale_purge_failed")
			continue
		}
		if dropped {
			purged++
		}
	}

	w.mu.Lock()
	w.state = StateActive
	w.mu.Unlock()

	fields["purged"] = purged
	fields["claim_clients"] = w.opts.ClaimClients
	w.opts.Logger.WithFields(fields).Info("activate_complete")
	return nil
}
