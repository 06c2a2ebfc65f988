package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/policy"
	"github.com/offline-hub/offline-hub/internal/worker"
)

// WorkerRoute 将 Worker 配置与派生属性（解析后的 Upstream URL、策略元数据、
// 编译后的排除模式、生命周期实例）聚合在一起，供路由/代理层直接复用。
type WorkerRoute struct {
	// Config 是用户在 config.toml 中声明的 Worker 字段副本，避免外部修改。
	Config config.WorkerConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
	// UpstreamURL 在构造 Registry 时提前解析完成，便于后续请求快速复用。
	UpstreamURL *url.URL
	// Policy 是解析后的策略元数据，Exclusions 为编译后的排除模式。
	Policy     policy.Profile
	Exclusions policy.Exclusions
	// OfflineBody 是 cache-first 策略下离线占位响应的正文。
	OfflineBody string
	// Worker 持有该站点的生命周期实例，Store 为其独占的存储仓库。
	Worker *worker.Worker
	Store  cache.Store
}

// RouteDeps 汇总构建 WorkerRegistry 所需的共享依赖。
type RouteDeps struct {
	Client *http.Client
	Logger *logrus.Logger
}

// WorkerRegistry 提供 Host/Host:port 到 WorkerRoute 的查询能力，
// 所有 Worker 共享同一个监听端口。
type WorkerRegistry struct {
	routes  map[string]*WorkerRoute
	ordered []*WorkerRoute
}

// NewWorkerRegistry 根据配置构建 Host 映射，并为每个 Worker 创建独占的
// 存储仓库与生命周期实例。调用方应在启动阶段创建一次并复用。
func NewWorkerRegistry(cfg *config.Config, deps RouteDeps) (*WorkerRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if deps.Client == nil {
		return nil, errors.New("http client is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}

	registry := &WorkerRegistry{
		routes: make(map[string]*WorkerRoute, len(cfg.Workers)),
	}

	for _, wc := range cfg.Workers {
		normalizedHost := normalizeDomain(wc.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for worker %s", wc.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := buildWorkerRoute(cfg, wc, deps)
		if err != nil {
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 WorkerRoute。
func (r *WorkerRegistry) Lookup(host string) (*WorkerRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// List 返回当前注册的 WorkerRoute 列表（按配置定义的顺序），用于诊断输出。
func (r *WorkerRegistry) List() []*WorkerRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*WorkerRoute(nil), r.ordered...)
}

// Bootstrap 依次对每个 Worker 执行 install → activate。顺序约束来自生命周期
// 语义：install 完成前不允许 activate，activate 完成前不开始对外拦截，
// 因此本方法必须在 HTTP 监听启动之前调用。任一 Worker 安装失败即整体失败。
func (r *WorkerRegistry) Bootstrap(ctx context.Context) error {
	for _, route := range r.ordered {
		if err := route.Worker.Install(ctx); err != nil {
			return fmt.Errorf("worker %s: %w", route.Config.Name, err)
		}
		if err := route.Worker.Activate(ctx); err != nil {
			return fmt.Errorf("worker %s: %w", route.Config.Name, err)
		}
	}
	return nil
}

func buildWorkerRoute(cfg *config.Config, wc config.WorkerConfig, deps RouteDeps) (*WorkerRoute, error) {
	profile, ok := policy.Resolve(wc.PolicyKey())
	if !ok {
		return nil, fmt.Errorf("worker %s: policy %s is not registered", wc.Name, wc.Policy)
	}

	upstreamURL, err := url.Parse(wc.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for worker %s: %w", wc.Name, err)
	}

	// 每个 Worker 独占 StoragePath/<Name> 子目录，保证 activate 阶段的
	// 过期清理只作用于自己的版本序列。
	store, err := cache.NewStore(filepath.Join(cfg.Global.StoragePath, wc.Name))
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", wc.Name, err)
	}

	w, err := worker.New(worker.Options{
		Name:           wc.Name,
		CacheName:      wc.CacheName,
		Precache:       wc.Precache,
		SkipWaiting:    wc.SkipWaiting,
		ClaimClients:   wc.ClaimClients,
		Upstream:       upstreamURL,
		Client:         deps.Client,
		Store:          store,
		Logger:         deps.Logger,
		InstallTimeout: cfg.Global.InstallTimeout.DurationValue(),
	})
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", wc.Name, err)
	}

	return &WorkerRoute{
		Config:      wc,
		ListenPort:  cfg.Global.ListenPort,
		UpstreamURL: upstreamURL,
		Policy:      profile,
		Exclusions:  policy.CompileExclusions(wc.Exclude),
		OfflineBody: wc.EffectiveOfflineBody(),
		Worker:      w,
		Store:       store,
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
