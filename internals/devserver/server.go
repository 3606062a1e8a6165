// Package devserver is a stand-in for the Python pipeline backend. It speaks
// the same REST and event-stream protocol and simulates task progress.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Oudwins/somedaex/internals/tasks"
	"github.com/Oudwins/somedaex/internals/timeouts"
)

type Config struct {
	DBPath    string
	StepDelay time.Duration
	Registry  *tasks.Registry
	Logger    *slog.Logger
}

type Server struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
	registry   *tasks.Registry
	store      *taskStore
	events     *broadcaster
	sim        *simulator
	httpServer *http.Server
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}
	if cfg.Registry == nil {
		cfg.Registry = tasks.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	store, err := newTaskStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	serverCtx, cancel := context.WithCancel(context.Background())
	events := newBroadcaster(cfg.Logger)
	s := &Server{
		ctx:      serverCtx,
		cancel:   cancel,
		logger:   cfg.Logger,
		registry: cfg.Registry,
		store:    store,
		events:   events,
		sim:      newSimulator(serverCtx, cfg.Logger, store, events, cfg.Registry, cfg.StepDelay),
	}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: timeouts.SecondDefault,
		BaseContext: func(net.Listener) context.Context {
			return serverCtx
		},
	}
	return s, nil
}

// Serve blocks serving on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("Development backend listening", "addr", listener.Addr().String())
	err := s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Shutdown stops accepting requests, ends open event streams and waits for
// simulated work to stop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.httpServer.Shutdown(ctx)
	s.sim.wait()
	if closeErr := s.store.close(); err == nil {
		err = closeErr
	}
	return err
}
