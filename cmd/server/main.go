package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ga4u/internal/cache"
	"ga4u/internal/chat"
	"ga4u/internal/config"
	"ga4u/internal/db"
	"ga4u/internal/logger"
	"ga4u/internal/metrics"
	myMiddleware "ga4u/internal/middleware"
	"ga4u/internal/notification"
	"ga4u/internal/post"
	"ga4u/internal/pubsub"
	"ga4u/internal/user"
	"ga4u/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid logger configuration")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Postgres
	database, err := db.NewDatabase(cfg.DatabaseDSN, db.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("database schema initialized")

	// 2. Redis
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	queue := worker.NewQueue(cfg.RedisAddr)
	defer queue.Close()

	// 3. Features
	bus := pubsub.NewBus(log)

	userService := user.NewService(user.NewRepository(database.Conn), cache.NewRedis(redisClient),
		cfg.ProfileCacheTTL, cfg.JWTSecret, log)
	userHandler := user.NewHandler(userService, log)

	notificationService := notification.NewService(notification.NewRepository(database), bus)
	posts := post.NewRepository(database)

	chatService := chat.NewService(chat.Deps{
		Store:    chat.NewRepository(database),
		Profiles: userService,
		Events:   posts,
		Notifier: notificationService,
		Queue:    queue,
		Bus:      bus,
		Log:      log,
	})

	hub := chat.NewHub(redisClient, chatService, log)
	kinds := []pubsub.Kind{pubsub.KindMessageSent, pubsub.KindMessageRead, pubsub.KindNotificationCreated}
	bus.Subscribe(hub.OnEvent, kinds...)
	bus.Subscribe(metrics.ObserveEvent, kinds...)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 4. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Handle("/metrics", metrics.Handler())

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Patch("/api/profile", userHandler.UpdateProfile)
		chat.NewHandler(chatService, hub, log).Routes(r)
		notification.NewHandler(notificationService, log).Routes(r)
		post.NewHandler(posts, log).Routes(r)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return hub.SubscribeToRedis(gctx)
	})
	g.Go(func() error {
		return worker.NewServer(cfg.RedisAddr, cfg.WorkerConcurrency, chatService, log).Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
