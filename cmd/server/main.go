package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyforge/metering/internal/api"
	"github.com/storyforge/metering/internal/api/cron"
	v1 "github.com/storyforge/metering/internal/api/v1"
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/config"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/repository"
	"github.com/storyforge/metering/internal/service"
	"github.com/storyforge/metering/internal/webhook"
	"go.uber.org/fx"
)

const snapshotCacheTTL = 30 * time.Second

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			newPostgresClient,
			repository.NewRepositories,
			newServiceParams,
			newSnapshotCache,
			service.NewLogNotifier,
			service.NewCreditResolverService,
			service.NewRolloverService,
			service.NewSeatPoolService,
			service.NewLifecycleService,
			service.NewMeteringService,
			service.NewTenantService,
			service.NewSweepService,
			webhook.NewHandler,
			v1.NewMeteringHandler,
			v1.NewTenantHandler,
			cron.NewSweepHandler,
			newHandlers,
			api.NewRouter,
		),
		fx.Invoke(startServer),
	)

	app.Run()
}

func newPostgresClient(cfg *config.Configuration, log *logger.Logger) (postgres.IClient, error) {
	return postgres.NewClient(cfg, log)
}

func newSnapshotCache() cache.Cache {
	return cache.NewInMemoryCache(snapshotCacheTTL)
}

func newServiceParams(
	cfg *config.Configuration,
	log *logger.Logger,
	db postgres.IClient,
	snapshotCache cache.Cache,
	repos *repository.Repositories,
) service.ServiceParams {
	return service.ServiceParams{
		Logger:          log,
		Config:          cfg,
		DB:              db,
		SnapshotCache:   snapshotCache,
		TenantRepo:      repos.Tenant,
		QuotaRepo:       repos.Quota,
		LedgerRepo:      repos.Ledger,
		CreditRepo:      repos.Credit,
		TransitionRepo:  repos.Transition,
		ReservationRepo: repos.Reservation,
		ReminderRepo:    repos.Reminder,
	}
}

func newHandlers(
	metering *v1.MeteringHandler,
	tenant *v1.TenantHandler,
	sweep *cron.SweepHandler,
	wh *webhook.Handler,
) api.Handlers {
	return api.Handlers{
		Metering: metering,
		Tenant:   tenant,
		Sweep:    sweep,
		Webhook:  wh,
	}
}

func startServer(
	lc fx.Lifecycle,
	router *gin.Engine,
	cfg *config.Configuration,
	db postgres.IClient,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting server", "address", cfg.Server.Address, "mode", cfg.Deployment.Mode)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalw("server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("shutting down server")
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			return db.Close()
		},
	})
}
