package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/slot-booking-bot/internal/api"
	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
	"github.com/hackgods/slot-booking-bot/internal/conversation"
	"github.com/hackgods/slot-booking-bot/internal/notify"
	redisclient "github.com/hackgods/slot-booking-bot/internal/redis"
	"github.com/hackgods/slot-booking-bot/internal/reminder"
	"github.com/hackgods/slot-booking-bot/internal/telegram"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("bot starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.Telegram.Token == "" {
		log.Fatal("TELEGRAM_TOKEN is required")
	}

	log.Printf("running in env=%s store=%s sessions=%s transport=%s admins=%d",
		cfg.Env, cfg.StoreDriver, cfg.SessionBackend, cfg.Telegram.Mode, len(cfg.Admins))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := booking.OpenRepository(rootCtx, cfg)
	if err != nil {
		log.Fatalf("store connection error: %v", err)
	}
	defer closeStore()
	svc := booking.NewService(repo)

	var rdb *redis.Client
	if cfg.SessionBackend == config.SessionBackendRedis {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg)
		if err != nil {
			log.Fatalf("redis connection error: %v", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Printf("error closing redis: %v", err)
			}
		}()
		log.Println("connected to Redis")
	}

	var (
		sessions  conversation.SessionStore = conversation.NewMemorySessions(cfg.SessionCache, cfg.SessionTTL)
		updateLog api.UpdateLog             = api.NewMemoryUpdateLog(10000, time.Hour)
	)
	if rdb != nil {
		sessions = redisclient.NewSessions(rdb, cfg.SessionTTL)
		updateLog = redisclient.NewUpdateLog(rdb, time.Hour)
	}

	client := telegram.NewClient(cfg.Telegram)
	dispatcher := notify.NewDispatcher(client, cfg.Delivery)
	machine := conversation.NewMachine(svc, dispatcher, sessions, cfg.Admins)
	updates := telegram.NewUpdateHandler(machine, client, telegram.NewRateLimiter(cfg.RateLimit))

	scheduler := reminder.NewScheduler(svc, dispatcher, cfg.Reminder)
	if rdb != nil {
		scheduler.WithLocker(redisclient.NewLocker(rdb, cfg.Reminder.Interval))
	}

	routerCfg := api.RouterConfig{
		Store:          svc,
		Redis:          rdb,
		Reminder:       scheduler,
		ReminderMaxAge: 3*cfg.Reminder.Interval + cfg.Reminder.ErrorBackoff,
		Transport:      cfg.Telegram.Mode,
		Env:            cfg.Env,
		Version:        version,
	}
	if cfg.Telegram.Mode == config.TransportWebhook {
		routerCfg.Updates = updates
		routerCfg.UpdateLog = updateLog
		routerCfg.WebhookSecret = cfg.Telegram.WebhookSecret
	}
	handler := api.NewRouter(routerCfg)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(rootCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		supervise(rootCtx, "http server", cfg.Telegram.RestartDelay, func(ctx context.Context) error {
			return serveHTTP(ctx, cfg.HTTPPort, handler, cfg.ShutdownTimeout)
		})
	}()

	if cfg.Telegram.Mode == config.TransportPolling {
		poller := telegram.NewPoller(client, updates, cfg.Telegram.PollTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			supervise(rootCtx, "poller", cfg.Telegram.RestartDelay, func(ctx context.Context) error {
				if err := client.DeleteWebhook(ctx); err != nil {
					return err
				}
				return poller.Run(ctx)
			})
		}()
	}

	<-rootCtx.Done()
	log.Println("shutdown signal received")
	wg.Wait()
	log.Println("bot stopped")
}

// serveHTTP serves until ctx is cancelled, then drains in-flight requests.
func serveHTTP(ctx context.Context, port string, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("http server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
