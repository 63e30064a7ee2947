// Package testutil starts shared backing services for integration tests.
//
// Each container is started at most once per test binary. When Docker is not
// available the calling test is skipped rather than failed.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// startTimeout is generous to suit CI environments.
const startTimeout = 3 * time.Minute

// service is one lazily started container shared by every test in the
// binary that asks for it.
type service struct {
	name  string
	image string
	port  nat.Port
	opts  []testcontainers.ContainerCustomizer
	// url turns the mapped host:port into what storage constructors take.
	url func(hostPort string) string

	once sync.Once
	addr string
	err  error
}

// get returns the service URL, starting the container on first use. The
// test is skipped when the container cannot be started.
func (s *service) get(t *testing.T) string {
	t.Helper()
	s.once.Do(func() { s.addr, s.err = s.start(t) })
	if s.err != nil {
		t.Skipf("%s container unavailable: %v", s.name, s.err)
	}
	return s.addr
}

func (s *service) start(t *testing.T) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	opts := append([]testcontainers.ContainerCustomizer{
		testcontainers.WithExposedPorts(string(s.port)),
	}, s.opts...)
	c, err := testcontainers.Run(ctx, s.image, opts...)
	if err != nil {
		return "", err
	}
	t.Cleanup(func() {
		testcontainers.CleanupContainer(t, c)
	})

	hostPort, err := c.PortEndpoint(ctx, s.port, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", err
	}
	if s.url == nil {
		return hostPort, nil
	}
	return s.url(hostPort), nil
}
