package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoService = &service{
	name:  "mongo",
	image: "mongo:7",
	port:  "27017/tcp",
	opts: []testcontainers.ContainerCustomizer{
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	},
	url: func(hostPort string) string { return "mongodb://" + hostPort },
}

// GetMongoURI returns a connection URI for a shared MongoDB container.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongoService.get(t)
}
