package policy

import "strings"

// Exclusions 保存编译后的 URL 排除模式。命中任一模式的请求不参与拦截，
// 也永远不会写入缓存，典型用途是 API 路径与代理自身的诊断路径。
type Exclusions struct {
	patterns []string
}

// CompileExclusions 规整原始模式列表，去除空白项。匹配语义为子串包含。
func CompileExclusions(raw []string) Exclusions {
	patterns := make([]string, 0, len(raw))
	for _, pattern := range raw {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		patterns = append(patterns, trimmed)
	}
	return Exclusions{patterns: patterns}
}

// Matches 返回请求 URL（路径 + 查询串）是否命中任一排除模式。
func (e Exclusions) Matches(requestURL string) bool {
	for _, pattern := range e.patterns {
		if strings.Contains(requestURL, pattern) {
			return true
		}
	}
	return false
}

// Patterns 返回编译后的模式副本，供诊断输出使用。
func (e Exclusions) Patterns() []string {
	return append([]string(nil), e.patterns...)
}
