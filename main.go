package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"blobarena/server/internal/arena"
	configpkg "blobarena/server/internal/config"
	"blobarena/server/internal/game"
	"blobarena/server/internal/httpapi"
	"blobarena/server/internal/leaderboard"
	"blobarena/server/internal/logging"
	"blobarena/server/internal/spectator"
)

const shutdownGrace = 10 * time.Second

// startupState records non-fatal failures surfaced through /readyz.
type startupState struct {
	mu  sync.RWMutex
	err error
}

func (s *startupState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// StartupError implements httpapi.ReadinessProvider.
func (s *startupState) StartupError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// storeBundle keeps the selected backend alongside its optional capabilities.
type storeBundle struct {
	store  leaderboard.Store
	reader leaderboard.Reader
	close  func() error
}

func openStore(cfg configpkg.StoreConfig) (storeBundle, error) {
	switch cfg.Kind {
	case configpkg.StoreFile:
		fileStore, err := leaderboard.NewFileStore(cfg.Path, time.Now)
		if err != nil {
			return storeBundle{}, err
		}
		return storeBundle{store: fileStore, reader: fileStore, close: fileStore.Close}, nil
	case configpkg.StoreREST:
		restStore, err := leaderboard.NewRESTStore(cfg.URL, cfg.Table, cfg.APIKey)
		if err != nil {
			return storeBundle{}, err
		}
		return storeBundle{store: restStore, close: func() error { return nil }}, nil
	default:
		memory := leaderboard.NewMemoryStore()
		return storeBundle{store: memory, reader: memory, close: func() error { return nil }}, nil
	}
}

func rulesFromConfig(cfg configpkg.GameConfig) game.Rules {
	rules := game.DefaultRules()
	rules.WorldWidth = cfg.WorldWidth
	rules.WorldHeight = cfg.WorldHeight
	rules.BoundaryPadding = cfg.BoundaryPadding
	rules.MaxSpeed = cfg.MaxSpeed
	rules.MinSize = cfg.MinSize
	rules.MaxSize = cfg.MaxSize
	rules.MaxDelta = cfg.MaxDelta
	rules.EatRatio = cfg.EatRatio
	rules.SpeedTolerance = cfg.SpeedTolerance
	return rules
}

// inboundRate maps the operator setting, where zero disables the guard, onto the hub option.
func inboundRate(configured int) int {
	if configured == 0 {
		return -1
	}
	return configured
}

// newMux assembles every HTTP route served by the arena.
func newMux(hub *arena.Hub, cfg *configpkg.Config, handlers *httpapi.HandlerSet) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", arena.NewHandler(hub, arena.SocketOptions{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
	}))
	handlers.Register(mux)
	registerProtocolDocEndpoints(mux)
	return mux
}

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		logging.L().Fatal("failed to load configuration", logging.Error(err))
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Fatal("failed to configure logging", logging.Error(err))
	}
	logging.ReplaceGlobals(logger)
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			logger.Warn("failed to sync logger", logging.Error(syncErr))
		}
	}()

	stores, err := openStore(cfg.Store)
	if err != nil {
		logger.Fatal("failed to open leaderboard store", logging.Error(err), logging.String("store", string(cfg.Store.Kind)))
	}
	dispatcher := leaderboard.NewDispatcher(stores.store, cfg.Store.Concurrency, cfg.Store.Timeout, logger)

	hub := arena.NewHub(arena.Options{
		Validator:         game.NewValidator(rulesFromConfig(cfg.Game)),
		Dispatcher:        dispatcher,
		Logger:            logger,
		InactiveThreshold: cfg.Game.InactiveThreshold,
		BatchInterval:     cfg.Game.BatchInterval,
		SyncInterval:      cfg.Game.SyncInterval,
		LeaderboardLimit:  cfg.Game.LeaderboardLimit,
		InboundRate:       inboundRate(cfg.InboundRate),
		MaxClients:        cfg.MaxClients,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hub.Start(ctx)

	spectatorService := spectator.NewService(hub,
		spectator.WithCompressor(spectator.CompressorByName(cfg.GRPC.Encoding)),
		spectator.WithLogger(logger),
	)

	state := &startupState{}
	handlerOpts := httpapi.Options{
		Logger:      logger,
		Readiness:   state,
		Stats:       hub.Stats,
		Leaderboard: spectatorService,
		Syncer:      httpapi.SyncerFunc(func() int { return len(hub.Reap()) }),
		AdminToken:  cfg.AdminToken,
		RateLimiter: arena.NewSlidingWindowLimiter(cfg.AdminSyncWindow, cfg.AdminSyncBurst, time.Now),
	}
	if stores.reader != nil {
		handlerOpts.Store = stores.reader
	}
	mux := newMux(hub, cfg, httpapi.NewHandlerSet(handlerOpts))

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Address != "" {
		grpcServer, err = startSpectatorServer(cfg, logger, spectatorService)
		if err != nil {
			logger.Error("spectator gRPC listener failed", logging.Error(err))
			state.fail(err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		tlsEnabled := cfg.TLSCertPath != ""
		logger.Info("arena listening",
			logging.String("url", listenerURL(cfg.Address, tlsEnabled)),
			logging.String("store", string(cfg.Store.Kind)),
		)
		var listenErr error
		if tlsEnabled {
			listenErr = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			listenErr = server.ListenAndServe()
		}
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", logging.Error(err))
		}
	}

	//1.- Stop accepting traffic before draining the arena.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	//2.- Halt the loops and end spectator streams so the gRPC drain can finish.
	hub.Stop()
	if grpcServer != nil && !stopSpectatorServer(grpcServer, shutdownGrace) {
		logger.Warn("spectator gRPC drain timed out; streams were cut")
	}
	//3.- Let queued store calls finish.
	dispatcher.Wait()
	if err := stores.close(); err != nil {
		logger.Warn("failed to close leaderboard store", logging.Error(err))
	}
	logger.Info("arena stopped")
}

func startSpectatorServer(cfg *configpkg.Config, logger *logging.Logger, service *spectator.Service) (*grpc.Server, error) {
	opts, err := configureGRPCSecurity(cfg, logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(opts...)
	spectator.RegisterSpectatorServer(server, service)
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			logger.Error("spectator gRPC server stopped", logging.Error(serveErr))
		}
	}()
	logger.Info("spectator gRPC listening",
		logging.String("addr", cfg.GRPC.Address),
		logging.String("auth_mode", string(cfg.GRPC.AuthMode)),
		logging.String("encoding", cfg.GRPC.Encoding),
	)
	return server, nil
}

// stopSpectatorServer drains in-flight RPCs for up to grace before forcing the
// server closed. It reports whether the drain finished in time.
func stopSpectatorServer(server *grpc.Server, grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		server.Stop()
		<-done
		return false
	}
}
