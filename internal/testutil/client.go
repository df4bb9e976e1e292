package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/storyforge/metering/internal/postgres"
)

type testTxKey struct{}

// InMemoryClient implements postgres.IClient for tests. WithTx serializes
// callers on a single mutex, giving the in-memory stores the same guarantee
// the per-tenant advisory lock gives postgres: at most one quota mutation in
// flight at a time. Nested calls join the outer "transaction" the same way
// the real client joins an open sql.Tx. Rollback is not simulated; tests
// that exercise failure paths assert on state the services wrote before the
// error.
type InMemoryClient struct {
	mu sync.Mutex
}

// NewInMemoryClient creates a new in-memory database client
func NewInMemoryClient() *InMemoryClient {
	return &InMemoryClient{}
}

func (c *InMemoryClient) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(testTxKey{}) != nil {
		return fn(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(context.WithValue(ctx, testTxKey{}, true))
}

// LockKey is a no-op: WithTx already serializes all access.
func (c *InMemoryClient) LockKey(ctx context.Context, key string, timeout time.Duration) error {
	return nil
}

// Querier is never used by the in-memory repositories.
func (c *InMemoryClient) Querier(ctx context.Context) postgres.Querier {
	return nil
}

func (c *InMemoryClient) Close() error {
	return nil
}
