package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/proxy"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/server/routes"
)

// siteStub 模拟一个可离线缓存的静态站点上游，记录每次请求便于断言。
type siteStub struct {
	server *httptest.Server
	URL    string

	mu       sync.Mutex
	assets   map[string]string
	requests []RecordedRequest
}

// RecordedRequest 捕获每次请求的方法/路径/Host，便于断言代理行为。
type RecordedRequest struct {
	Method string
	Path   string
	Host   string
}

func newSiteStub(t *testing.T, assets map[string]string) *siteStub {
	t.Helper()

	stub := &siteStub{assets: assets}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.requests = append(stub.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Host:   r.Host,
		})
		body, ok := stub.assets[r.URL.Path]
		stub.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(stub.server.Close)
	stub.URL = stub.server.URL
	return stub
}

func (s *siteStub) Close() {
	s.server.Close()
}

// UpdateAsset 模拟上游内容更新。
func (s *siteStub) UpdateAsset(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[path] = body
}

func (s *siteStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *siteStub) HitCount(path string) int {
	count := 0
	for _, r := range s.Requests() {
		if r.Path == path {
			count++
		}
	}
	return count
}

// hubHarness 按照 main.go 的启动顺序组装完整服务：配置 → 注册表 →
// install/activate → Fiber app（含诊断路由）。
type hubHarness struct {
	app      *fiber.App
	registry *server.WorkerRegistry
	cfg      *config.Config
}

func newHubHarness(t *testing.T, cfg *config.Config) *hubHarness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := server.NewUpstreamClient(cfg)
	registry, err := server.NewWorkerRegistry(cfg, server.RouteDeps{Client: client, Logger: logger})
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	if err := registry.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxy.NewHandler(client, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterWorkerRoutes(app, registry)

	return &hubHarness{app: app, registry: registry, cfg: cfg}
}

func (h *hubHarness) Get(t *testing.T, host, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://"+host+target, nil)
	req.Host = host
	req.Header.Set("Host", host)
	resp, err := h.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func workerConfig(name, domain, upstream, policyKey, cacheName string) config.WorkerConfig {
	return config.WorkerConfig{
		Name:      name,
		Domain:    domain,
		Upstream:  upstream,
		Policy:    policyKey,
		CacheName: cacheName,
	}
}

func baseConfig(t *testing.T, workers ...config.WorkerConfig) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			StoragePath:     t.TempDir(),
			UpstreamTimeout: config.Duration(5 * time.Second),
			InstallTimeout:  config.Duration(time.Minute),
		},
		Workers: workers,
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
