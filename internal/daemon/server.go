package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/fanout"
	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for the daemon.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer binds the configured address and builds the router. Binding
// here makes a busy port fail startup instead of a background goroutine.
func NewServer(
	p Params,
	logger *zap.Logger,
	hub *fanout.Hub,
	chatSvc *api.ChatService,
	messageSvc *api.MessageService,
	syncSvc *api.SyncService,
	statusSvc *api.StatusService,
	webhookSvc *api.WebhookService,
) (*Server, error) {
	listener, err := net.Listen("tcp", p.Config.HTTP.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", p.Config.HTTP.Addr, err)
	}

	router := api.NewRouter(logger.Named("http"), hub, chatSvc, messageSvc, syncSvc, statusSvc, webhookSvc)
	return &Server{
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
}
