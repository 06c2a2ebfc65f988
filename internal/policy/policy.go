package policy

import (
	"net/http"
	"strings"
)

// Key 标识一种请求拦截策略。
type Key string

const (
	// KeyCacheFirst 优先读取缓存，网络失败时返回合成的离线占位响应。
	KeyCacheFirst Key = "cache-first"
	// KeyNetworkFirst 优先访问网络，失败时回退到缓存查找，不产生占位响应。
	KeyNetworkFirst Key = "network-first"
)

// Profile 描述一种策略的静态元数据，供配置校验与诊断端使用。
type Profile struct {
	Key              Key
	Description      string
	OfflineFallback  bool
	HonorsExclusions bool
	InterceptMethods []string
}

// Intercepts 返回该策略是否拦截给定方法的请求；未拦截的请求直接透传上游。
func (p Profile) Intercepts(method string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	for _, m := range p.InterceptMethods {
		if m == method {
			return true
		}
	}
	return false
}

func init() {
	MustRegister(Profile{
		Key:              KeyCacheFirst,
		Description:      "serve from cache, fall back to network, synthesize an offline response on failure",
		OfflineFallback:  true,
		HonorsExclusions: false,
		InterceptMethods: []string{http.MethodGet, http.MethodHead},
	})
	MustRegister(Profile{
		Key:              KeyNetworkFirst,
		Description:      "fetch from network, fall back to cache, exclusion patterns bypass interception",
		OfflineFallback:  false,
		HonorsExclusions: true,
		InterceptMethods: []string{http.MethodGet, http.MethodHead},
	})
}
