package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/offline-hub/offline-hub/internal/policy"
	"github.com/offline-hub/offline-hub/internal/server"
)

// RegisterWorkerRoutes 暴露 /-/ 诊断接口，供运维查询 worker 生命周期与缓存占用情况。
func RegisterWorkerRoutes(app *fiber.App, registry *server.WorkerRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/workers", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"workers": encodeWorkers(registry.List()),
		})
	})

	app.Get("/-/workers/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "worker_name_required"})
		}
		for _, route := range registry.List() {
			if route.Config.Name == name {
				return c.JSON(encodeWorker(route))
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "worker_not_found"})
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		payload, err := encodeCaches(registry.List())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_enumeration_failed"})
		}
		return c.JSON(fiber.Map{"caches": payload})
	})

	app.Get("/-/policies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"policies": encodePolicies(policy.List()),
		})
	})
}

type workerPayload struct {
	Name          string   `json:"name"`
	Domain        string   `json:"domain"`
	Upstream      string   `json:"upstream"`
	State         string   `json:"state"`
	Policy        string   `json:"policy"`
	CacheName     string   `json:"cache_name"`
	PrecacheCount int      `json:"precache_count"`
	Exclusions    []string `json:"exclusions,omitempty"`
	SkipWaiting   bool     `json:"skip_waiting"`
	ClaimClients  bool     `json:"claim_clients"`
}

type cachePayload struct {
	Worker string   `json:"worker"`
	Active string   `json:"active_cache"`
	Names  []string `json:"names"`
}

type policyPayload struct {
	Key              string   `json:"key"`
	Description      string   `json:"description"`
	OfflineFallback  bool     `json:"offline_fallback"`
	HonorsExclusions bool     `json:"honors_exclusions"`
	InterceptMethods []string `json:"intercept_methods"`
}

func encodeWorkers(routes []*server.WorkerRoute) []workerPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]workerPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeWorker(route))
	}
	return result
}

func encodeWorker(route *server.WorkerRoute) workerPayload {
	return workerPayload{
		Name:          route.Config.Name,
		Domain:        route.Config.Domain,
		Upstream:      route.UpstreamURL.String(),
		State:         string(route.Worker.State()),
		Policy:        string(route.Policy.Key),
		CacheName:     route.Worker.CacheName(),
		PrecacheCount: route.Worker.PrecacheCount(),
		Exclusions:    route.Exclusions.Patterns(),
		SkipWaiting:   route.Worker.SkipWaiting(),
		ClaimClients:  route.Worker.ClaimClients(),
	}
}

func encodeCaches(routes []*server.WorkerRoute) ([]cachePayload, error) {
	result := make([]cachePayload, 0, len(routes))
	for _, route := range routes {
		names, err := route.Store.Names()
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		result = append(result, cachePayload{
			Worker: route.Config.Name,
			Active: route.Worker.CacheName(),
			Names:  names,
		})
	}
	return result, nil
}

func encodePolicies(profiles []policy.Profile) []policyPayload {
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Key < profiles[j].Key
	})
	result := make([]policyPayload, 0, len(profiles))
	for _, profile := range profiles {
		result = append(result, policyPayload{
			Key:              string(profile.Key),
			Description:      profile.Description,
			OfflineFallback:  profile.OfflineFallback,
			HonorsExclusions: profile.HonorsExclusions,
			InterceptMethods: append([]string(nil), profile.InterceptMethods...),
		})
	}
	return result
}
