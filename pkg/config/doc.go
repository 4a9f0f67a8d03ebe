// Package config loads the authorization service configuration from
// PERFHUB_ prefixed environment variables.
//
//	PERFHUB_PORT=8080
//	PERFHUB_DATABASE_URL=postgres://perfhub@localhost/perfhub?sslmode=disable
//	PERFHUB_CACHE_BACKEND=redis        # memory (default) or redis
//	PERFHUB_CACHE_TTL=5m
//	PERFHUB_REDIS_ADDR=redis:6379
//	PERFHUB_SEED_FILE=/etc/perfhub/seed.yaml
//	PERFHUB_LOG_LEVEL=info
//	PERFHUB_OTEL_ENABLED=true
//	PERFHUB_OTEL_ENDPOINT=otel-collector:4317
//
// LoadConfig applies defaults and fails when Validate rejects the result.
package config
