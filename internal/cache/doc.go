// Package cache implements the named, versioned response stores backing the
// offline proxy. Each named cache maps request identities (method + path) to
// captured responses laid out as StoragePath/<name>/<METHOD>/<path>.body with a
// JSON .meta sidecar carrying status, headers, and the capture time. Writes go
// through temp file + rename so a crashed install never leaves a half-written
// entry visible, and repeated installs of the same manifest stay idempotent.
// Lifecycle and proxy layers depend on this package for precache population,
// stale-version purges, and cache-hit serving without duplicating filesystem
// logic.
package cache
