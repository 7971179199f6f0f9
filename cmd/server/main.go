package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/maynagashev/beatmaps-cdn/internal/broker"
	"github.com/maynagashev/beatmaps-cdn/internal/consumer"
	"github.com/maynagashev/beatmaps-cdn/internal/filename"
	"github.com/maynagashev/beatmaps-cdn/internal/handlers"
	"github.com/maynagashev/beatmaps-cdn/internal/logging"
	"github.com/maynagashev/beatmaps-cdn/internal/metrics"
	appmiddleware "github.com/maynagashev/beatmaps-cdn/internal/middleware"
	"github.com/maynagashev/beatmaps-cdn/internal/notify"
	"github.com/maynagashev/beatmaps-cdn/internal/repository"
	"github.com/maynagashev/beatmaps-cdn/internal/services"
	"github.com/maynagashev/beatmaps-cdn/internal/storage"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Minute
	defaultIdleTimeout  = 60 * time.Second

	exchangeName       = "beatmaps"
	deadLetterExchange = "beatmaps.dlq"
	syncBindingKey     = "cdn.#"
)

// Подменяются в тестах.
var (
	newPostgresDB = repository.NewPostgresDB
	migrateDB     = repository.Migrate
	dialBroker    = broker.Dial
)

// dependencies содержит инициализированные компоненты сервера.
type dependencies struct {
	db         *sqlx.DB
	broker     *broker.Broker
	metrics    *metrics.Metrics
	cdnHandler *handlers.CDNHandler
	static     http.Handler
	// notifier и consumer равны nil, если брокер не настроен
	notifier *notify.AsyncNotifier
	consumer *consumer.Consumer
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "cdn-server",
		Short:         "Serves beatmap archives and media and mirrors map metadata",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	loadDotEnv()
	if err := bindSettings(cmd, v); err != nil {
		// Набор настроек статичен, ошибка возможна только при ошибке в коде
		panic(err)
	}
	return cmd
}

// run запускает сервер и блокируется до отмены ctx или сбоя одного из компонентов.
func run(ctx context.Context, cfg *config) error {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting beatmaps CDN", zap.String("addr", cfg.ListenAddr), zap.String("prefix", cfg.CDNPrefix))

	deps, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.close(log)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      setupRouter(deps.cdnHandler, deps.static, deps.metrics, log.Named("http")),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	// Все компоненты останавливаются, когда завершается любой из них
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})

	if deps.consumer != nil {
		g.Go(func() error { return deps.consumer.Run(gctx) })
	}
	if deps.notifier != nil {
		g.Go(func() error { return deps.notifier.Run(gctx) })
	}

	if err = g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

// setupDependencies подключается к БД, файловому хранилищу и брокеру и
// собирает поверх них сервисы.
func setupDependencies(ctx context.Context, cfg *config, log *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{metrics: metrics.New()}
	// При ошибке закрываем все, что успели открыть
	defer func() {
		if err != nil {
			deps.close(log)
		}
	}()

	// Подключаемся к БД и применяем миграции
	deps.db, err = newPostgresDB(cfg.DatabaseDSN, log.Named("repository"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err = migrateDB(ctx, deps.db, log.Named("repository")); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	files, err := setupStorage(ctx, cfg, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Без брокера CDN работает только на чтение
	var notifier notify.Notifier = notify.Nop{}
	if cfg.RabbitURL != "" {
		deps.broker, err = dialBroker(broker.Config{
			URL:                cfg.RabbitURL,
			Exchange:           exchangeName,
			Queue:              "cdn." + cfg.CDNPrefix,
			BindingKey:         syncBindingKey,
			DeadLetterExchange: deadLetterExchange,
			Prefetch:           1, // События применяются строго по одному
		}, log.Named("broker"))
		if err != nil {
			return nil, fmt.Errorf("broker: %w", err)
		}

		deps.notifier = notify.NewAsyncNotifier(deps.broker, cfg.NotifyBuffer, log.Named("notify"), deps.metrics)
		notifier = deps.notifier

		syncService := services.NewSyncService(repository.NewPostgresSyncStore(deps.db, log.Named("repository")), log.Named("sync"))
		deps.consumer = consumer.New(deps.broker, syncService, log.Named("consumer"), deps.metrics)
	} else {
		log.Warn("no broker configured, metadata sync and download notifications are disabled")
	}

	maps := repository.NewPostgresMapRepository(deps.db, log.Named("repository"))
	resolver := services.NewResolver(
		maps,
		filename.NewCache(maps, log.Named("filename")),
		files,
		cfg.Layout,
		notifier,
		log.Named("resolver"),
		deps.metrics,
	)
	deps.cdnHandler = handlers.NewCDNHandler(resolver, files, log.Named("http"))
	deps.static = handlers.NewStaticHandler(afero.NewBasePathFs(afero.NewOsFs(), cfg.StaticDir))

	return deps, nil
}

// setupStorage выбирает файловое хранилище по настройке storage-backend.
func setupStorage(ctx context.Context, cfg *config, log *zap.Logger) (storage.FileStorage, error) {
	if cfg.StorageBackend == backendMinio {
		return storage.NewMinioClient(ctx, cfg.Minio, log)
	}
	log.Info("serving files from local disk", zap.String("zipDir", cfg.Layout.ZipDir))
	return storage.NewLocalStorage(afero.NewOsFs(), log), nil
}

// close закрывает брокер и БД, ошибки только логируются.
func (d *dependencies) close(log *zap.Logger) {
	if d.broker != nil {
		if err := d.broker.Close(); err != nil {
			log.Warn("closing broker", zap.Error(err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Warn("closing database", zap.Error(err))
		}
	}
}

// setupRouter настраивает роутер chi.
func setupRouter(cdn *handlers.CDNHandler, static http.Handler, m *metrics.Metrics, log *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.RequestLogger(log, m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Method(http.MethodGet, "/static/*", http.StripPrefix("/static", static))

	r.Route("/cdn", func(r chi.Router) {
		r.Use(appmiddleware.CORS)
		r.NotFound(handlers.NotFound)
		r.MethodNotAllowed(handlers.NotFound)

		r.Get("/beatsaver/{"+handlers.FileParam+"}", cdn.ServeByKey)
		r.Options("/beatsaver/{"+handlers.FileParam+"}", preflight)
		r.Get("/avatar/{"+handlers.FileParam+"}", cdn.ServeAvatar)
		r.Get("/playlist/{"+handlers.FileParam+"}", cdn.ServePlaylistCover)
		r.Get("/{"+handlers.FileParam+"}", cdn.ServeByHash)
		r.Options("/{"+handlers.FileParam+"}", preflight)
	})
	return r
}

// preflight отвечает на OPTIONS-запросы без CORS-заголовков. Настоящие
// preflight-запросы уже обработаны middleware CORS.
func preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, HEAD, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
