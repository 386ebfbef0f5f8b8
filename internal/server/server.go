/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the playback engines, persistence and the HTTP control
// API into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/reeltime/internal/cache"
	"github.com/friendsincode/reeltime/internal/config"
	"github.com/friendsincode/reeltime/internal/db"
	"github.com/friendsincode/reeltime/internal/engine"
	"github.com/friendsincode/reeltime/internal/eventbus"
	"github.com/friendsincode/reeltime/internal/events"
	"github.com/friendsincode/reeltime/internal/media"
	"github.com/friendsincode/reeltime/internal/playback"
	"github.com/friendsincode/reeltime/internal/store"
	"github.com/friendsincode/reeltime/internal/telemetry"
	"github.com/friendsincode/reeltime/internal/version"
)

// relayedTypes cross node boundaries through Redis. Per-frame time updates
// stay local.
var relayedTypes = []events.EventType{
	events.EventPlaybackState,
	events.EventPlaybackEnd,
	events.EventSegmentChange,
	events.EventMediaError,
	events.EventSegmentsUpdated,
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db      *gorm.DB
	cache   *cache.Cache
	store   store.SegmentStore
	engines *engine.Manager
	bus     *events.Bus
	relay   *eventbus.RedisRelay
	api     *API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: newRouter(),
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Event streams are long-lived; the middleware timeout covers the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func newRouter() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("reeltime-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutUnlessStreaming(30 * time.Second))
	return router
}

// timeoutUnlessStreaming applies a request timeout to everything except
// WebSocket upgrades.
func timeoutUnlessStreaming(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if err := os.MkdirAll(s.cfg.MediaRoot, 0755); err != nil {
		return fmt.Errorf("create media directory %s: %w", s.cfg.MediaRoot, err)
	}

	var segStore store.SegmentStore = store.NewGormStore(database, s.logger)
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		segmentCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = segmentCache
			s.DeferClose(segmentCache.Close)
			segStore = store.NewCachedStore(segStore, segmentCache, s.logger)
		}

		relayCfg := eventbus.DefaultRedisConfig()
		relayCfg.Addr = s.cfg.RedisAddr
		relayCfg.Password = s.cfg.RedisPassword
		relayCfg.DB = s.cfg.RedisDB
		s.relay = eventbus.NewRedisRelay(relayCfg, s.cfg.InstanceID, s.bus, s.logger)
		s.relay.Forward(relayedTypes...)
		s.DeferClose(s.relay.Close)
	}
	s.store = segStore

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resolver, err := media.NewResolver(ctx, media.ResolverConfig{
		MediaRoot: s.cfg.MediaRoot,
		S3: media.S3Config{
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
			PresignTTL:      s.cfg.S3PresignTTL,
		},
	}, s.logger)
	if err != nil {
		return err
	}

	tick := s.cfg.TickInterval
	s.engines = engine.NewManager(engine.ManagerOptions{
		Source:      segStore,
		DefaultRate: s.cfg.FrameRate,
		Scheduler: func() playback.FrameScheduler {
			return playback.NewTickerScheduler(tick)
		},
		Factory: media.HeadlessFactory(media.HeadlessOptions{
			Prober:       media.NewFFprobe(s.cfg.FFprobeBin),
			ProbeTimeout: s.cfg.ProbeTimeout,
			Logger:       s.logger,
		}),
		PoolSize:      s.cfg.PoolSize,
		SeekTolerance: s.cfg.SeekTolerance,
		Resolver:      resolver,
		Bus:           s.bus,
	}, s.logger)

	s.api = NewAPI(segStore, s.engines, s.bus, []byte(s.cfg.JWTSigningKey), s.logger)
	if s.cfg.JWTSigningKey == "" {
		s.logger.Warn().Msg("REELTIME_JWT_SIGNING_KEY not set, control API is unauthenticated")
	}
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.engines != nil {
		s.engines.Shutdown()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			db.ReportConnectionMetrics(ctx, s.db, 30*time.Second)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runRemoteReloadListener(ctx)
	}()
}

// runRemoteReloadListener reloads local engines when another node replaces
// a project's segments. Local updates reload synchronously in the handler.
func (s *Server) runRemoteReloadListener(ctx context.Context) {
	sub := s.bus.SubscribeBuffered(events.EventSegmentsUpdated, 32)
	defer s.bus.Unsubscribe(events.EventSegmentsUpdated, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			if _, remote := payload[eventbus.OriginKey]; !remote {
				continue
			}
			projectID, _ := payload["project_id"].(string)
			if projectID == "" {
				continue
			}
			if err := s.engines.Reload(ctx, projectID); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Str("project_id", projectID).Msg("remote segment reload failed")
				continue
			}
			s.logger.Debug().Str("project_id", projectID).Interface("origin", payload[eventbus.OriginKey]).Msg("segments reloaded after remote update")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"version":  version.Version,
			"instance": s.cfg.InstanceID,
			"engines":  s.engines.Len(),
		})
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
