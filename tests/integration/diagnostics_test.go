package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestDiagnosticsReportActiveWorkers(t *testing.T) {
	upstream := newSiteStub(t, map[string]string{"/": "shell"})

	wc := workerConfig("exam", "exam.hub.local", upstream.URL, "cache-first", "cst-exam-v4")
	wc.Precache = []string{"/"}
	wc.SkipWaiting = true
	wc.ClaimClients = true
	harness := newHubHarness(t, baseConfig(t, wc))

	resp := harness.Get(t, "diag.local", "/-/workers")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Workers []struct {
			Name          string `json:"name"`
			State         string `json:"state"`
			Policy        string `json:"policy"`
			CacheName     string `json:"cache_name"`
			PrecacheCount int    `json:"precache_count"`
			SkipWaiting   bool   `json:"skip_waiting"`
			ClaimClients  bool   `json:"claim_clients"`
		} `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(payload.Workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(payload.Workers))
	}
	w := payload.Workers[0]
	if w.Name != "exam" || w.Policy != "cache-first" || w.CacheName != "cst-exam-v4" {
		t.Fatalf("unexpected worker payload: %+v", w)
	}
	// Bootstrap 完成后状态应为 active。
	if w.State != "active" {
		t.Fatalf("expected active state, got %s", w.State)
	}
	if w.PrecacheCount != 1 || !w.SkipWaiting || !w.ClaimClients {
		t.Fatalf("lifecycle flags not surfaced: %+v", w)
	}
}

func TestDiagnosticsListPoliciesAndCaches(t *testing.T) {
	upstream := newSiteStub(t, map[string]string{"/": "shell"})

	wc := workerConfig("exam", "exam.hub.local", upstream.URL, "cache-first", "cst-exam-v4")
	harness := newHubHarness(t, baseConfig(t, wc))

	resp := harness.Get(t, "diag.local", "/-/policies")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var policies struct {
		Policies []struct {
			Key string `json:"key"`
		} `json:"policies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&policies); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()
	if len(policies.Policies) != 2 {
		t.Fatalf("expected both built-in policies, got %d", len(policies.Policies))
	}

	resp = harness.Get(t, "diag.local", "/-/caches")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var caches struct {
		Caches []struct {
			Worker string   `json:"worker"`
			Active string   `json:"active_cache"`
			Names  []string `json:"names"`
		} `json:"caches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&caches); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()

	if len(caches.Caches) != 1 {
		t.Fatalf("expected 1 store, got %d", len(caches.Caches))
	}
	entry := caches.Caches[0]
	if entry.Worker != "exam" || entry.Active != "cst-exam-v4" {
		t.Fatalf("unexpected cache payload: %+v", entry)
	}
	if len(entry.Names) != 1 || entry.Names[0] != "cst-exam-v4" {
		t.Fatalf("激活后应只剩当前缓存: %v", entry.Names)
	}
}
