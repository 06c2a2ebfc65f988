package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig 将内容写入临时 TOML 文件并返回路径。
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

const minimalWorker = `
[[Worker]]
Name = "exam"
Domain = "exam.local"
Upstream = "https://exam.example.com"
Policy = "cache-first"
CacheName = "cst-exam-v4"
Precache = ["/"]
`
