package proxy

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/policy"
	"github.com/offline-hub/offline-hub/internal/server"
)

// Handler 负责 fetch 拦截的全流程：按策略决定缓存/网络的先后顺序，
// 对外暴露 Fiber handler，内部复用共享 http.Client 与各 Worker 的缓存。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
}

// NewHandler constructs the interception handler with a shared HTTP client/logger.
func NewHandler(client *http.Client, logger *logrus.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger,
	}
}

// Handle 实现 server.ProxyHandler。排除模式命中与未拦截方法直接透传上游，
// 其余请求按 cache-first / network-first 策略处理。
func (h *Handler) Handle(c fiber.Ctx, route *server.WorkerRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	method := c.Method()
	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)
	cleanPath := normalizeRequestPath(string(c.Request().URI().Path()))

	requestURL := cleanPath
	if len(rawQuery) > 0 {
		requestURL += "?" + string(rawQuery)
	}

	if route.Policy.HonorsExclusions && route.Exclusions.Matches(requestURL) {
		return h.passThrough(c, route, requestID, started, "excluded")
	}
	if !route.Policy.Intercepts(method) {
		return h.passThrough(c, route, requestID, started, "method")
	}

	key := buildKey(method, cleanPath, rawQuery)

	switch route.Policy.Key {
	case policy.KeyCacheFirst:
		return h.cacheFirst(c, route, key, requestID, started, ctx)
	default:
		return h.networkFirst(c, route, key, requestID, started, ctx)
	}
}

// cacheFirst 先查缓存，命中即返回且不触网；未命中回源并存储有效响应；
// 网络失败时返回合成的离线占位响应，调用方永远不会看到原始失败。
func (h *Handler) cacheFirst(
	c fiber.Ctx,
	route *server.WorkerRoute,
	key cache.Key,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	store := route.Worker.Cache()
	if store != nil {
		result, err := store.Match(ctx, key)
		switch {
		case err == nil:
			defer result.Reader.Close()
			return h.serveCache(c, route, result, requestID, started)
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			h.logger.WithError(err).
				WithFields(logrus.Fields{"worker": route.Config.Name, "policy": string(route.Policy.Key)}).
				Warn("cache_get_failed")
		}
	}

	resp, upstreamURL, err := h.fetchUpstream(c, route)
	if err != nil {
		h.logResult(route, upstreamURL, requestID, 0, false, started, err)
		return h.serveOffline(c, route, requestID)
	}
	defer resp.Body.Close()

	if store != nil && isCacheableResponse(route, resp, c.Method()) {
		return h.cacheAndStream(c, route, store, key, resp, requestID, started, ctx)
	}
	return h.streamUpstream(c, route, resp, requestID, started)
}

// networkFirst 先回源，成功则存储并返回；网络失败时回退到缓存查找。
// 缓存同样未命中时按约定将空查找结果原样暴露：504 空响应，不合成占位正文。
func (h *Handler) networkFirst(
	c fiber.Ctx,
	route *server.WorkerRoute,
	key cache.Key,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	store := route.Worker.Cache()

	resp, upstreamURL, err := h.fetchUpstream(c, route)
	if err == nil {
		defer resp.Body.Close()
		if store != nil && isCacheableResponse(route, resp, c.Method()) {
			return h.cacheAndStream(c, route, store, key, resp, requestID, started, ctx)
		}
		return h.streamUpstream(c, route, resp, requestID, started)
	}

	if store != nil {
		result, matchErr := store.Match(ctx, key)
		if matchErr == nil {
			defer result.Reader.Close()
			return h.serveCache(c, route, result, requestID, started)
		}
		if !errors.Is(matchErr, cache.ErrNotFound) {
			h.logger.WithError(matchErr).
				WithFields(logrus.Fields{"worker": route.Config.Name, "policy": string(route.Policy.Key)}).
				Warn("cache_get_failed")
		}
	}

	h.logResult(route, upstreamURL, requestID, 0, false, started, err)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusGatewayTimeout).Send(nil)
}

// serveOffline 产生 cache-first 策略的合成离线响应。
func (h *Handler) serveOffline(c fiber.Ctx, route *server.WorkerRoute, requestID string) error {
	c.Set("Content-Type", "text/plain; charset=utf-8")
	c.Set("X-Offline-Hub-Fallback", "offline")
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusServiceUnavailable).SendString(route.OfflineBody)
}

func (h *Handler) serveCache(
	c fiber.Ctx,
	route *server.WorkerRoute,
	result *cache.ReadResult,
	requestID string,
	started time.Time,
) error {
	meta := result.Entry.Metadata
	for name, values := range meta.Header {
		if server.IsHopByHopHeader(name) {
			continue
		}
		for _, value := range values {
			c.Set(name, value)
		}
	}

	if result.Entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	} else {
		c.Response().Header.Del("Content-Length")
	}

	c.Set("X-Offline-Hub-Upstream", route.UpstreamURL.String())
	c.Set("X-Offline-Hub-Cache-Hit", "true")
	setRequestIDHeader(c, requestID)

	status := meta.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(route, route.UpstreamURL.String(), requestID, status, true, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(route, route.UpstreamURL.String(), requestID, status, true, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *Handler) cacheAndStream(
	c fiber.Ctx,
	route *server.WorkerRoute,
	store cache.Cache,
	key cache.Key,
	resp *http.Response,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	upstreamURL := resp.Request.URL.String()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Hub-Upstream", upstreamURL)
	c.Set("X-Offline-Hub-Cache-Hit", "false")
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	// 克隆语义：正文经 TeeReader 同时写入缓存与下游。
	reader := io.TeeReader(resp.Body, c.Response().BodyWriter())
	meta := cache.Metadata{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
	}
	_, err := store.Put(ctx, key, meta, reader)
	h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("cache_write_failed: %v", err))
	}
	return nil
}

func (h *Handler) streamUpstream(
	c fiber.Ctx,
	route *server.WorkerRoute,
	resp *http.Response,
	requestID string,
	started time.Time,
) error {
	upstreamURL := resp.Request.URL.String()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Offline-Hub-Upstream", upstreamURL)
	c.Set("X-Offline-Hub-Cache-Hit", "false")
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// passThrough 不经过缓存读写，直接转发请求并回传响应。
func (h *Handler) passThrough(
	c fiber.Ctx,
	route *server.WorkerRoute,
	requestID string,
	started time.Time,
	reason string,
) error {
	resp, upstreamURL, err := h.fetchUpstream(c, route)
	if err != nil {
		fields := h.requestFields(route, requestID, false)
		fields["action"] = "proxy_bypass"
		fields["reason"] = reason
		fields["upstream"] = upstreamURL
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("upstream_failed")
		setRequestIDHeader(c, requestID)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	return h.streamUpstream(c, route, resp, requestID, started)
}

func (h *Handler) fetchUpstream(c fiber.Ctx, route *server.WorkerRoute) (*http.Response, string, error) {
	upstreamURL := resolveUpstreamURL(route.UpstreamURL, c)

	req, err := h.buildUpstreamRequest(c, upstreamURL, route)
	if err != nil {
		return nil, upstreamURL.String(), err
	}

	resp, err := h.client.Do(req)
	return resp, upstreamURL.String(), err
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, upstream *url.URL, route *server.WorkerRoute) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	body := bytesReader(c.Body())
	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))

	return req, nil
}

func (h *Handler) logResult(
	route *server.WorkerRoute,
	upstream string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := h.requestFields(route, requestID, cacheHit)
	fields["action"] = "fetch"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func (h *Handler) requestFields(route *server.WorkerRoute, requestID string, cacheHit bool) logrus.Fields {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		string(route.Policy.Key),
		route.Config.CacheName,
		cacheHit,
	)
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// isCacheableResponse 对应“status 200 且同源 basic 响应”的有效性判定：
// 仅 GET、状态 200、且最终响应来自配置的上游主机（未被重定向到第三方）。
func isCacheableResponse(route *server.WorkerRoute, resp *http.Response, method string) bool {
	if method != http.MethodGet {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	final := resp.Request.URL
	return final.Scheme == route.UpstreamURL.Scheme && final.Host == route.UpstreamURL.Host
}

// buildKey 将方法 + 路径映射为缓存键；HEAD 与 GET 共享同一条目，
// 查询串以 sha1 摘要折叠进路径，避免磁盘路径出现原始查询字符。
func buildKey(method, cleanPath string, rawQuery []byte) cache.Key {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if len(rawQuery) > 0 {
		sum := sha1.Sum(rawQuery)
		cleanPath = fmt.Sprintf("%s/__qs/%s", cleanPath, hex.EncodeToString(sum[:]))
	}
	return cache.NormalizeKey(method, cleanPath)
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean, RawPath: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return base.ResolveReference(relative)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func routePort(route *server.WorkerRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
