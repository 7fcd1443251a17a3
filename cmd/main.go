package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"helpdesk/backend/internal/api/handler"
	"helpdesk/backend/internal/autoreply"
	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/chathub"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/ingest"
	"helpdesk/backend/internal/lifecycle"
	"helpdesk/backend/internal/localization"
	"helpdesk/backend/internal/logger"
	"helpdesk/backend/internal/metrics"
	"helpdesk/backend/internal/similarity"
	"helpdesk/backend/internal/sla"
	"helpdesk/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.New(cfg)
	log.Info().Msg("starting helpdesk backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Dependencies
	db, rdb, err := storage.Connect(ctx, cfg, true)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect dependencies")
	}
	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	texts, err := localization.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load translations")
	}

	// 2. Core services
	hub := chathub.NewManagerService(s, config.EventsChannel)
	notifier := chathub.NewDispatcher(s, hub)

	lc := lifecycle.NewService(s, notifier, texts, cfg.AlertLang)
	lc.Metrics = m

	sender := channel.NewCloudSender(cfg.ChannelAPIURL, cfg.ChannelPhoneID, cfg.ChannelToken, cfg.ChannelRatePerSecond)
	scorer := similarity.NewClient(cfg.SimilarityURL)
	rules, err := storage.NewCachedAutoReplyStore(s, cfg.SettingsCacheSize, cfg.SettingsCacheTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create settings cache")
	}

	engine := autoreply.NewEngine(rules, scorer, sender, nil, cfg.Location(), m)
	replies := autoreply.NewDispatcher(engine, cfg.AutoReplyWorkers, cfg.AutoReplyQueueSize, m)
	ingestor := ingest.NewNormalizer(s, lc, notifier, replies, m)
	// Bot replies are stored the same way as any outbound message.
	engine.Recorder = ingestor

	monitor := sla.NewMonitor(s, s, sender, notifier, texts, cfg, m)

	// 3. HTTP
	r := gin.Default()
	h := handler.NewHandler(hub, cfg, handler.Services{
		Ingest:    ingestor,
		Lifecycle: lc,
		AutoReply: engine,
		SLA:       monitor,
		Scorer:    scorer,
		Settings:  rules,
		Metrics:   m,
	})
	h.Routes(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// No WriteTimeout: viewer streams stay open.
	}

	// 4. Run everything until a signal arrives or one part fails.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return replies.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx, cfg.SLAInterval, cfg.SLASchedule) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("helpdesk backend stopped with error")
	}
	log.Info().Msg("helpdesk backend stopped")
}
