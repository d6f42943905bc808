/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/themeline/internal/audio"
	"github.com/friendsincode/themeline/internal/cache"
	"github.com/friendsincode/themeline/internal/catalog"
	"github.com/friendsincode/themeline/internal/config"
	"github.com/friendsincode/themeline/internal/db"
	"github.com/friendsincode/themeline/internal/engine"
	"github.com/friendsincode/themeline/internal/eventbus"
	"github.com/friendsincode/themeline/internal/events"
	"github.com/friendsincode/themeline/internal/logbuffer"
	"github.com/friendsincode/themeline/internal/telemetry"
	"github.com/friendsincode/themeline/internal/version"
)

// Server bundles the HTTP API, the playback coordinator, and supporting
// services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db          *gorm.DB
	cache       *cache.Cache
	logBuffer   *logbuffer.Buffer
	bus         *events.Bus
	remote      eventbus.Bus
	store       *catalog.Store
	theme       *catalog.ThemeProvider
	channel     *audio.PCMChannel
	coordinator *engine.Coordinator
	checker     *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. ambient may be nil
// when the host exposes no ambient audio source.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, ambient engine.AmbientControl, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("themeline-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(ambient); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris. The event
		// stream is long-lived, so no full write deadline.
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ambient engine.AmbientControl) error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := os.MkdirAll(s.cfg.MediaRoot, 0755); err != nil {
		return fmt.Errorf("create media directory %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	trackCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = trackCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	s.store = catalog.NewStore(database, s.cache, s.logger)

	var provider engine.Catalog = s.store
	if s.cfg.ThemeFile != "" {
		theme, err := catalog.LoadTheme(s.cfg.ThemeFile, s.cfg.MediaRoot)
		if err != nil {
			return fmt.Errorf("load theme file %s: %w", s.cfg.ThemeFile, err)
		}
		s.theme = theme
		provider = catalog.NewLayered(theme, s.store)
		s.logger.Info().
			Str("path", s.cfg.ThemeFile).
			Int("items", theme.Len()).
			Msg("theme file loaded")
	}

	s.channel = audio.NewPCMChannel(audio.PCMConfig{GStreamerBin: s.cfg.GStreamerBin}, s.logger)
	s.DeferClose(func() error { return s.channel.Close() })

	bridge := engine.NewBridge(s.cfg.Suppression, ambient, s.bus, s.logger)
	s.coordinator = engine.NewCoordinator(s.cfg, provider, s.channel, bridge, s.bus, s.logger)

	if remote, err := s.initRemoteBus(); err != nil {
		return err
	} else if remote != nil {
		s.remote = remote
		s.DeferClose(func() error { return s.remote.Close() })
	}

	s.checker = version.NewChecker(s.logger)

	return nil
}

// initRemoteBus builds the distributed event backend, or nil for the
// in-memory one.
func (s *Server) initRemoteBus() (eventbus.Bus, error) {
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}

	switch s.cfg.EventBus {
	case config.EventBusMemory:
		return nil, nil
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		return eventbus.NewRedisBus(redisCfg, nodeID, s.logger)
	case config.EventBusNATS:
		return eventbus.NewNATSBus(s.cfg.NATSURL, nodeID, s.logger)
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", s.cfg.EventBus)
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Coordinator exposes the playback coordinator.
func (s *Server) Coordinator() *engine.Coordinator {
	return s.coordinator
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	s.coordinator.Shutdown()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.coordinator.Run(ctx)
	}()

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}

	if s.remote != nil {
		forwarder := eventbus.NewForwarder(s.bus, s.remote, s.logger)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			forwarder.Run(ctx)
		}()
	}

	if s.cfg.MetricsBind != "" {
		s.startMetricsListener()
	}

	s.checker.Start(ctx)
}

// startMetricsListener serves /metrics on a dedicated bind so scrape
// traffic stays off the API port.
func (s *Server) startMetricsListener() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())

	s.metricsServer = &http.Server{
		Addr:              s.cfg.MetricsBind,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("bind", s.cfg.MetricsBind).Msg("metrics listener exited")
		}
	}()
}

// runCacheInvalidationListener subscribes to catalog events and drops the
// affected cache entries.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	itemUpdated := s.bus.Subscribe(events.EventItemUpdated)
	itemDeleted := s.bus.Subscribe(events.EventItemDeleted)
	trackUpdated := s.bus.Subscribe(events.EventTrackUpdated)

	defer func() {
		s.bus.Unsubscribe(events.EventItemUpdated, itemUpdated)
		s.bus.Unsubscribe(events.EventItemDeleted, itemDeleted)
		s.bus.Unsubscribe(events.EventTrackUpdated, trackUpdated)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	invalidate := func(payload events.Payload) {
		if itemID, ok := payload["item_id"].(string); ok && itemID != "" {
			s.cache.InvalidateItemTracks(ctx, itemID)
		}
		s.cache.InvalidateItemList(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case payload := <-itemUpdated:
			invalidate(payload)
		case payload := <-itemDeleted:
			invalidate(payload)
		case payload := <-trackUpdated:
			invalidate(payload)
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.checker.Stop()
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsServer.Shutdown(ctx)
		cancel()
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}
