// Точка входа Provision Module — выдача доступа к контенту Artstore.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает pipeline provisioning (репозиторий, хранилище, подпись URL),
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/afero"

	"github.com/bigkaa/goartstore/provision-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/provision-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/provision-module/internal/config"
	"github.com/bigkaa/goartstore/provision-module/internal/database"
	"github.com/bigkaa/goartstore/provision-module/internal/repository"
	"github.com/bigkaa/goartstore/provision-module/internal/server"
	"github.com/bigkaa/goartstore/provision-module/internal/service"
	"github.com/bigkaa/goartstore/provision-module/internal/storage/pathguard"
	"github.com/bigkaa/goartstore/provision-module/internal/transform"
	"github.com/bigkaa/goartstore/provision-module/internal/urlsign"
)

// readinessTimeout — таймаут проверки Keycloak JWKS в /health/ready.
const readinessTimeout = 5 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Provision Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("PM_DEPHEALTH_GROUP") == "" {
		logger.Warn("PM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	if cfg.DBMigrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Компоненты pipeline provisioning
	guard, err := pathguard.New(cfg.StorageRoot)
	if err != nil {
		logger.Error("Некорректный корень хранилища",
			slog.String("root", cfg.StorageRoot),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	signer, err := urlsign.New(cfg.SigningSecret, cfg.URLTTL, logger)
	if err != nil {
		logger.Error("Ошибка создания подписи URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	contentRepo := repository.NewContentRepository(pool)
	provisionSvc := service.NewProvisionService(
		contentRepo,
		afero.NewOsFs(),
		guard,
		signer,
		transform.New(logger),
		logger,
	)
	logger.Info("Pipeline provisioning инициализирован",
		slog.String("storage_root", guard.Root()),
		slog.String("url_ttl", signer.TTL().String()),
	)

	// 6. Readiness checkers (PostgreSQL + Keycloak)
	pgChecker := database.NewReadinessChecker(pool)
	kcChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, readinessTimeout)
	if err != nil {
		logger.Error("Ошибка создания Keycloak readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, kcChecker)

	// 7. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, provisionSvc, logger)

	// 8. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTCACertPath,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		middleware.JWTOptions{
			Issuer:         cfg.JWTIssuer,
			TenantClaim:    cfg.JWTTenantClaim,
			AdminGroups:    cfg.RoleAdminGroups,
			ReadonlyGroups: cfg.RoleReadonlyGroups,
			Leeway:         cfg.JWTLeeway,
		},
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
		slog.String("tenant_claim", cfg.JWTTenantClaim),
	)

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "provision-module",
		Group:           cfg.DephealthGroup,
		PgConnURL:       cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
		IsEntry:         cfg.DephealthIsEntry,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth.Middleware())
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Provision Module остановлен")
}
