// Package metrics provides the one Prometheus collector this gateway
// shares across its HTTP/WS handlers, LLM provider, supervisor agent,
// prompt/tool-result caches, and Redis connection pool. It exists so
// cmd/gateway/server.go constructs exactly one Collector per process
// (registering each metric name with promauto exactly once) and threads it
// through every component as a narrow interface rather than a global.
package metrics
