package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lumenlab/oracle/internal/circuitbreaker"
)

// RedisChecker probes the session store. Non-critical: a dead Redis only
// loses transcripts, requests still complete.
type RedisChecker struct {
	client *circuitbreaker.RedisWrapper
}

func NewRedisChecker(client *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string   { return "redis" }
func (c *RedisChecker) Critical() bool { return false }

func (c *RedisChecker) Check(ctx context.Context) error {
	if c.client.IsCircuitBreakerOpen() {
		return errors.New("circuit breaker open")
	}
	return c.client.Ping(ctx).Err()
}

// DatabaseChecker probes Postgres. Critical: without it there are no
// knowledge catalogs and no persistence.
type DatabaseChecker struct {
	db *circuitbreaker.DatabaseWrapper
}

func NewDatabaseChecker(db *circuitbreaker.DatabaseWrapper) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string   { return "database" }
func (c *DatabaseChecker) Critical() bool { return true }

func (c *DatabaseChecker) Check(ctx context.Context) error {
	if c.db.IsCircuitBreakerOpen() {
		return errors.New("circuit breaker open")
	}
	return c.db.PingContext(ctx)
}

// EndpointChecker probes an HTTP dependency, such as the vector index or
// the embedding service. Non-critical: retrieval degrades to keyword-only.
type EndpointChecker struct {
	name   string
	url    string
	client *http.Client
}

func NewEndpointChecker(name, url string) *EndpointChecker {
	return &EndpointChecker{name: name, url: url, client: &http.Client{}}
}

func (c *EndpointChecker) Name() string   { return c.name }
func (c *EndpointChecker) Critical() bool { return false }

func (c *EndpointChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
