// Package server hosts the Fiber HTTP service, request middleware chain, and
// worker registry glue that wires Host resolution into the interception
// handler. It bootstraps Fiber, attaches logging and recover middlewares,
// builds per-site workers (each with its own cache store) from config, and
// runs the install/activate lifecycle before the listener starts accepting
// traffic. Keep exports narrow and accept explicit dependencies so the proxy
// and cmd layers can reuse the constructors in tests.
package server
