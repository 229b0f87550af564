// Package bootstrap wires configuration, adapters and services into the API
// server and the batch worker.
package bootstrap

import (
	"context"
	"time"

	"helios_server/adapter/out/persistence"
	"helios_server/adapter/out/provider"
	"helios_server/config"
	"helios_server/core/service/allowlist"
	"helios_server/core/service/contact"
	"helios_server/core/service/schedule"
	"helios_server/core/service/triage"
	"helios_server/infra/database"
	"helios_server/pkg/apperr"
	"helios_server/pkg/cache"
	"helios_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Dependencies holds every constructed adapter and service.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	ClientRepo    *persistence.ClientAdapter
	UnknownRepo   *persistence.UnknownSenderAdapter
	EmailTaskRepo *persistence.EmailTaskAdapter

	// Providers
	GmailProvider    *provider.GmailAdapter
	CalendarProvider *provider.GoogleCalendarAdapter
	TaskSource       *provider.TaskSourceAdapter

	// Cache
	Cache *cache.RedisCache

	// Services
	AllowlistService *allowlist.Service
	ContactService   *contact.Service
	TriageService    *triage.Service
	ScheduleService  *schedule.Service

	// Scheduling
	ScheduleConfig *config.ScheduleConfig
	Location       *time.Location
}

// NewDependencies constructs the dependency graph.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, nil, apperr.ConfigError("DATABASE_URL is required")
	}

	// Database (pgxpool for health checks)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for adapters)
	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Ordered forward-only migrations
	if err := persistence.Migrate(context.Background(), sqlDB); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Redis (optional: snapshot cache and rate limiting degrade without it)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, snapshot cache and rate limiting disabled")
		} else {
			deps.Redis = redisClient
			deps.Cache = cache.NewRedisCache(redisClient)
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	// Repositories
	deps.ClientRepo = persistence.NewClientAdapter(sqlDB)
	deps.UnknownRepo = persistence.NewUnknownSenderAdapter(sqlDB)
	deps.EmailTaskRepo = persistence.NewEmailTaskAdapter(sqlDB)

	// Providers
	deps.GmailProvider = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		TokenFile:    cfg.GoogleTokenFile,
	})
	deps.CalendarProvider = provider.NewGoogleCalendarAdapter(&provider.GoogleCalendarConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		TokenFile:    cfg.GoogleTokenFile,
	})
	deps.TaskSource = provider.NewTaskSourceAdapter(&provider.TaskSourceConfig{
		BaseURL:        cfg.TasksAPIURL,
		APIKey:         cfg.TasksAPIKey,
		TeamID:         cfg.TasksTeamID,
		AssigneeID:     cfg.TasksAssigneeID,
		EmailListID:    cfg.TasksEmailListID,
		SpaceClients:   cfg.TasksSpaceClients,
		SpaceSystems:   cfg.TasksSpaceSystems,
		SpaceMarketing: cfg.TasksSpaceMktg,
		SpacePersonal:  cfg.TasksSpacePersonal,
	})

	// Scheduling rules
	scheduleCfg, err := config.LoadScheduleConfig(cfg.ScheduleConfigPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.ScheduleConfig = scheduleCfg
	deps.Location = cfg.Location()

	// Services
	deps.AllowlistService = allowlist.NewService(deps.ClientRepo)
	deps.ContactService = contact.NewService(deps.ClientRepo, deps.ClientRepo)
	deps.TriageService = triage.NewService(
		deps.AllowlistService,
		deps.EmailTaskRepo,
		deps.UnknownRepo,
		deps.GmailProvider,
		triage.Config{
			TriageLabels: cfg.MailTriageLabels,
			LookbackDays: cfg.MailLookbackDays,
			ThreadMode:   cfg.IngestThreadMode,
			SweepTimeout: cfg.SweepTimeout,
		},
	)
	deps.ScheduleService = schedule.NewService(
		deps.CalendarProvider,
		deps.TaskSource,
		scheduleCfg,
		deps.Location,
		cfg.Timezone,
		cfg.FixedCalendarID,
		cfg.FlexibleCalendarID,
	)

	logger.Info("Dependencies initialized")

	return deps, cleanup, nil
}

// NewWorkerTriageService builds the triage service used by the batch sweep
// worker: admission runs against the cached allowlist snapshot.
func (deps *Dependencies) NewWorkerTriageService() *triage.Service {
	triageCfg := triage.Config{
		TriageLabels: deps.Config.MailTriageLabels,
		LookbackDays: deps.Config.MailLookbackDays,
		ThreadMode:   deps.Config.IngestThreadMode,
		SweepTimeout: deps.Config.SweepTimeout,
	}

	if deps.Cache == nil {
		return triage.NewService(deps.AllowlistService, deps.EmailTaskRepo, deps.UnknownRepo, deps.GmailProvider, triageCfg)
	}

	cached := allowlist.NewCachedService(deps.ClientRepo, deps.Cache, deps.Config.AllowlistCacheTTL)
	return triage.NewService(cached, deps.EmailTaskRepo, deps.UnknownRepo, deps.GmailProvider, triageCfg)
}
