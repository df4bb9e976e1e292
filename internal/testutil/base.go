package testutil

import (
	"context"
	"time"

	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/config"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores bundles the in-memory repository doubles.
type Stores struct {
	TenantRepo      *InMemoryTenantStore
	QuotaRepo       *InMemoryQuotaStore
	LedgerRepo      *InMemoryLedgerStore
	CreditRepo      *InMemoryCreditStore
	TransitionRepo  *InMemoryTransitionStore
	ReservationRepo *InMemoryReservationStore
	ReminderRepo    *InMemoryReminderStore
}

// BaseServiceTestSuite provides common setup for service tests: fresh
// in-memory stores, a serializing database double, default config, and a
// request context carrying a tenant and user id.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	cfg    *config.Configuration
	log    *logger.Logger
	db     *InMemoryClient
	cache  cache.Cache
	stores Stores
}

// SetupTest prepares fresh state before each test.
func (s *BaseServiceTestSuite) SetupTest() {
	s.cfg = config.GetDefaultConfig()
	s.log = logger.GetLogger()
	s.db = NewInMemoryClient()
	s.cache = cache.NewInMemoryCache(time.Minute)
	s.stores = Stores{
		TenantRepo:      NewInMemoryTenantStore(),
		QuotaRepo:       NewInMemoryQuotaStore(),
		LedgerRepo:      NewInMemoryLedgerStore(),
		CreditRepo:      NewInMemoryCreditStore(),
		TransitionRepo:  NewInMemoryTransitionStore(),
		ReservationRepo: NewInMemoryReservationStore(),
		ReminderRepo:    NewInMemoryReminderStore(),
	}

	ctx := context.Background()
	ctx = types.SetTenantID(ctx, types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT))
	ctx = types.SetUserID(ctx, types.DefaultUserID)
	s.ctx = ctx
}

// TearDownTest releases per-test state.
func (s *BaseServiceTestSuite) TearDownTest() {
	s.ctx = nil
}

// GetContext returns the per-test request context.
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration.
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.cfg
}

// GetLogger returns the test logger.
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.log
}

// GetDB returns the serializing database double.
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetSnapshotCache returns the per-test snapshot cache.
func (s *BaseServiceTestSuite) GetSnapshotCache() cache.Cache {
	return s.cache
}

// GetStores returns the in-memory repository doubles.
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}
