package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 worker/domain/策略/命中状态字段，供代理请求日志复用。
func RequestFields(worker, domain, policy, cacheName string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"worker":     worker,
		"domain":     domain,
		"policy":     policy,
		"cache_name": cacheName,
		"cache_hit":  cacheHit,
	}
}

// LifecycleFields 构建 install/activate 生命周期日志的公共字段。
func LifecycleFields(action, worker, cacheName string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"worker":     worker,
		"cache_name": cacheName,
	}
}
