package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/appwatch/mvcr-status-bot/internal/config"
	"github.com/appwatch/mvcr-status-bot/internal/fetcher"
	"github.com/appwatch/mvcr-status-bot/internal/health"
	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
)

func main() {
	logger.Init()
	log := logger.Component("fetcher")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}
	fetcherID := cfg.FetcherID
	if fetcherID == "" {
		fetcherID = "fetcher-" + uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	engine := fetcher.NewHTTPEngine(cfg.PortalURL, cfg.PageLoadLimit)
	collector := fetcher.NewCollector(fetcherID)
	go collector.Report(ctx, fabric, cfg.PortalURL)

	processor := fetcher.NewProcessor(fabric, engine, collector, fetcher.Config{
		PortalURL:       cfg.PortalURL,
		JitterSeconds:   cfg.JitterSeconds,
		MaxRetries:      cfg.MaxRetries,
		MaxMessages:     cfg.MaxMessages,
		CoolOffDuration: cfg.CoolOffDuration,
		Prefetch:        cfg.Prefetch,
	})

	probes := health.NewHandler(
		health.NewPingChecker("rabbitmq", func(context.Context) error { return fabric.Ping() }),
	)
	go func() {
		if err := health.Serve(ctx, cfg.OpsAddr, probes.Router()); err != nil {
			log.Error().Err(err).Msg("ops server stopped")
		}
	}()

	log.Info().Str("fetcher_id", fetcherID).Str("portal", cfg.PortalURL).Msg("fetcher started")
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("processor stopped with error")
	}
	processor.Shutdown()
	log.Info().Msg("fetcher stopped")
}
