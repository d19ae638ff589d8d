package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/crewviateam/lead-flow-server-sub000/internal/api"
	"github.com/crewviateam/lead-flow-server-sub000/internal/config"
	"github.com/crewviateam/lead-flow-server-sub000/internal/events"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/queue"
	"github.com/crewviateam/lead-flow-server-sub000/internal/ratelimit"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/scheduler"
	"github.com/crewviateam/lead-flow-server-sub000/internal/service/lead"
	"github.com/crewviateam/lead-flow-server-sub000/internal/status"
	"github.com/crewviateam/lead-flow-server-sub000/internal/worker"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if cfg.Database.URL == "" {
		log.Fatal("database url is required (DATABASE_URL or config)")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetimeDuration())

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unreachable, degraded mode (DB fallbacks only): %v", err)
	}

	rules := rulebook.New()

	leadStore := postgres.NewLeadStore(db)
	jobStore := postgres.NewJobStore(db)
	scheduleStore := postgres.NewScheduleStore(db)
	settingsStore := postgres.NewSettingsStore(db)
	conditionalStore := postgres.NewConditionalStore(db)
	notificationStore := postgres.NewNotificationStore(db)
	historyStore := postgres.NewHistoryStore(db)

	limiter := ratelimit.NewLimiter(redisClient, db, rules)
	sendQueue := queue.New(redisClient, queue.EmailSendQueue)
	resolver := status.NewResolver(db, rules, settingsStore, conditionalStore)

	engine := scheduler.NewEngine(scheduler.Deps{
		DB:            db,
		Redis:         redisClient,
		Rules:         rules,
		Leads:         leadStore,
		Jobs:          jobStore,
		Schedules:     scheduleStore,
		Settings:      settingsStore,
		Conditionals:  conditionalStore,
		Notifications: notificationStore,
		History:       historyStore,
		Limiter:       limiter,
		SendQueue:     sendQueue,
		Resolver:      resolver,
	})

	eventStore := events.NewStore(db)
	handlers := events.NewHandlers(engine, rules, leadStore, jobStore, settingsStore, notificationStore, nil)
	dispatcher := events.NewDispatcher(eventStore, rules, handlers)
	webhook := worker.NewWebhookReceiver(dispatcher)

	leadSvc := lead.NewService(leadStore, engine)

	apiHandlers := api.NewHandlers(db, leadSvc, engine, limiter,
		jobStore, scheduleStore, settingsStore, notificationStore, historyStore, webhook)
	router := api.SetupRoutes(apiHandlers, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("server stopped")
}
