package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/offline-hub/offline-hub/internal/policy"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.InstallTimeout.DurationValue() <= 0 {
		return newFieldError("Global.InstallTimeout", "必须大于 0")
	}

	if len(c.Workers) == 0 {
		return errors.New("至少需要配置一个 Worker")
	}

	seenNames := map[string]struct{}{}
	seenCaches := map[string]string{}
	for i := range c.Workers {
		w := &c.Workers[i]
		if w.Name == "" {
			return newFieldError("Worker[].Name", "不能为空")
		}
		if _, exists := seenNames[w.Name]; exists {
			return newFieldError(workerField(w.Name, "Name"), "重复")
		}
		seenNames[w.Name] = struct{}{}

		if err := validateDomain(w.Domain); err != nil {
			return fmt.Errorf("%s: %w", workerField(w.Name, "Domain"), err)
		}

		if err := validateUpstream(w.Upstream); err != nil {
			return fmt.Errorf("%s: %w", workerField(w.Name, "Upstream"), err)
		}

		key := w.PolicyKey()
		if key == "" {
			return newFieldError(workerField(w.Name, "Policy"), "不能为空，仅支持 "+strings.Join(policy.Keys(), "|"))
		}
		if _, ok := policy.Resolve(key); !ok {
			return newFieldError(workerField(w.Name, "Policy"), "未注册策略，仅支持 "+strings.Join(policy.Keys(), "|"))
		}
		w.Policy = key

		if err := validateCacheName(w.CacheName); err != nil {
			return fmt.Errorf("%s: %w", workerField(w.Name, "CacheName"), err)
		}
		// 缓存名即版本号，不同 Worker 共用会导致 activate 阶段互相清理。
		if owner, exists := seenCaches[w.CacheName]; exists {
			return newFieldError(workerField(w.Name, "CacheName"),
				fmt.Sprintf("与 Worker[%s] 冲突，缓存名必须唯一", owner))
		}
		seenCaches[w.CacheName] = w.Name

		for _, asset := range w.Precache {
			if !strings.HasPrefix(asset, "/") {
				return newFieldError(workerField(w.Name, "Precache"),
					fmt.Sprintf("资源路径必须以 / 开头: %s", asset))
			}
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// validateCacheName 约束缓存名只含文件系统安全字符，因为它同时是磁盘目录名。
func validateCacheName(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("含非法字符 %q，仅允许字母数字与 -_. ", r)
		}
	}
	if name == "." || name == ".." {
		return errors.New("不能为 . 或 ..")
	}
	return nil
}
