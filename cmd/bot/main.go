package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"

	"github.com/appwatch/mvcr-status-bot/internal/bothandler"
	"github.com/appwatch/mvcr-status-bot/internal/config"
	"github.com/appwatch/mvcr-status-bot/internal/health"
	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
	"github.com/appwatch/mvcr-status-bot/internal/metricshub"
	"github.com/appwatch/mvcr-status-bot/internal/notify"
	"github.com/appwatch/mvcr-status-bot/internal/ratelimit"
	"github.com/appwatch/mvcr-status-bot/internal/reconciler"
	"github.com/appwatch/mvcr-status-bot/internal/scheduler"
	"github.com/appwatch/mvcr-status-bot/internal/store"
)

func main() {
	logger.Init()
	log := logger.Component("bot")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}
	if cfg.TelegramToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is required")
	}

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.PostgresDSN(), logger.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	defer st.Close()

	var tlsFiles *messaging.TLSFiles
	if cfg.RabbitTLSEnabled() {
		tlsFiles = &messaging.TLSFiles{
			CACert: cfg.RabbitSSLCACert,
			Cert:   cfg.RabbitSSLCert,
			Key:    cfg.RabbitSSLKey,
		}
	}
	fabric := messaging.NewFabric(messaging.Config{
		URL:         cfg.RabbitURL(),
		TLS:         tlsFiles,
		ConnRetries: cfg.RabbitConnRetries,
		RetryDelay:  cfg.RabbitRetryDelay,
		RequeueTTL:  cfg.RequeueThreshold,
	}, logger.Logger)
	if err := fabric.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("broker connection failed")
	}
	defer fabric.Close()

	// The rate limiter fails open when Redis is down, so a missing
	// instance only disables the daily caps.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	limiter := ratelimit.New(rdb, cfg.DailyCommandLimit, 24*time.Hour, cfg.AdminChatIDs)

	b, err := bot.New(cfg.TelegramToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram bot init failed")
	}

	notifier := notify.New(notify.NewTelegramSender(b))
	hub := metricshub.New(0)

	handler := bothandler.New(st, notifier, fabric, limiter, hub, bothandler.Config{
		AdminChatIDs:      cfg.AdminChatIDs,
		SubscriptionLimit: cfg.SubscriptionLimit,
		ReminderLimit:     cfg.ReminderLimit,
		RefreshPeriod:     cfg.RefreshPeriod,
		Timezone:          tz,
	})
	handler.Register(b)
	stopCleanup := handler.StartSessionCleanup(5 * time.Minute)
	defer stopCleanup()

	rec := reconciler.New(fabric, st, notifier, hub, cfg.Prefetch)
	if err := rec.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("reconciler start failed")
	}

	appMonitor := scheduler.NewApplicationMonitor(st, fabric,
		cfg.SchedulerPeriod, cfg.RefreshPeriod, cfg.NotFoundRefreshPeriod, cfg.NotFoundMaxAge)
	go appMonitor.Run(ctx)

	reminderMonitor := scheduler.NewReminderMonitor(st, fabric, tz)
	go reminderMonitor.Run(ctx)

	probes := health.NewHandler(
		health.NewPingChecker("db", st.Ping),
		health.NewPingChecker("rabbitmq", func(context.Context) error { return fabric.Ping() }),
	)
	go func() {
		if err := health.Serve(ctx, cfg.OpsAddr, probes.Router()); err != nil {
			log.Error().Err(err).Msg("ops server stopped")
		}
	}()

	log.Info().Str("env", cfg.Env).Msg("bot started")
	b.Start(ctx)
	log.Info().Msg("bot stopped")
}
