package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisService = &service{
	name:  "redis",
	image: "redis:7",
	port:  "6379/tcp",
	opts: []testcontainers.ContainerCustomizer{
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	},
}

// GetRedisAddress returns host:port of a shared Redis container, for
// redis.Options.Addr.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisService.get(t)
}
