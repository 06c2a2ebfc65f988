package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	path := writeConfig(t, `
StoragePath = "./storage"

[[Worker]]
Name = "exam"
Domain = "exam.local"
Upstream = "https://exam.example.com"
Policy = "write-through"
CacheName = "cst-exam-v4"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("未注册策略应被拒绝")
	}
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("应返回 FieldError，得到 %T", err)
	}
	if fieldErr.Field != "Worker[exam].Policy" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
	if !strings.Contains(fieldErr.Reason, "cache-first") {
		t.Fatalf("错误信息应列出可用策略: %s", fieldErr.Reason)
	}
}

func TestValidateRejectsDuplicateCacheName(t *testing.T) {
	path := writeConfig(t, `
StoragePath = "./storage"

[[Worker]]
Name = "a"
Domain = "a.local"
Upstream = "https://a.example.com"
Policy = "cache-first"
CacheName = "shared-v1"

[[Worker]]
Name = "b"
Domain = "b.local"
Upstream = "https://b.example.com"
Policy = "network-first"
CacheName = "shared-v1"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("重复缓存名应被拒绝")
	}
	if !strings.Contains(err.Error(), "CacheName") {
		t.Fatalf("错误应指向 CacheName: %v", err)
	}
}

func TestValidateRejectsUnsafeCacheName(t *testing.T) {
	for _, bad := range []string{"", "a/b", "..", "v1 beta"} {
		cfg := &Config{
			Global: GlobalConfig{
				ListenPort:      5000,
				StoragePath:     "./storage",
				UpstreamTimeout: Duration(1),
				InstallTimeout:  Duration(1),
			},
			Workers: []WorkerConfig{{
				Name:      "exam",
				Domain:    "exam.local",
				Upstream:  "https://exam.example.com",
				Policy:    "cache-first",
				CacheName: bad,
			}},
		}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("缓存名 %q 应被拒绝", bad)
		}
	}
}

func TestValidateRequiresWorkers(t *testing.T) {
	path := writeConfig(t, `
StoragePath = "./storage"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("无 Worker 的配置应被拒绝")
	}
}

func TestValidateDomainRules(t *testing.T) {
	for _, bad := range []string{"", "exam.local/path", "http://exam.local", "exam local"} {
		if err := validateDomain(bad); err == nil {
			t.Fatalf("域名 %q 应被拒绝", bad)
		}
	}
	if err := validateDomain("exam.local"); err != nil {
		t.Fatalf("合法域名被拒绝: %v", err)
	}
}

func TestValidateUpstreamRules(t *testing.T) {
	for _, bad := range []string{"", "ftp://exam.example.com", "https://"} {
		if err := validateUpstream(bad); err == nil {
			t.Fatalf("上游 %q 应被拒绝", bad)
		}
	}
	if err := validateUpstream("http://127.0.0.1:8080"); err != nil {
		t.Fatalf("合法上游被拒绝: %v", err)
	}
}

func TestPolicySummaries(t *testing.T) {
	workers := []WorkerConfig{
		{Name: "exam", Policy: "Cache-First"},
		{Name: "portal", Policy: "network-first"},
	}
	summary := PolicySummaries(workers)
	if len(summary) != 2 || summary[0] != "exam:cache-first" || summary[1] != "portal:network-first" {
		t.Fatalf("摘要输出错误: %v", summary)
	}
	if PolicySummaries(nil) != nil {
		t.Fatalf("空列表应返回 nil")
	}
}
