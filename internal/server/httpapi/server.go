// Package httpapi exposes the relay over HTTP: client registration, the
// send/poll/ack message surface, privileged publishing, and the operator
// read endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"edgerelay/internal/logging"
	"edgerelay/internal/server/auth"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/services"
)

type Server struct {
	address    string
	registry   *services.RegistryService
	mailbox    *services.MailboxService
	fanout     *services.FanoutEngine
	operator   *services.OperatorService
	signingKey []byte
	logger     logging.Logger
}

func NewServer(cfg *config.Config, logger logging.Logger,
	registry *services.RegistryService, mailbox *services.MailboxService,
	fanout *services.FanoutEngine, operator *services.OperatorService) (*Server, error) {

	return &Server{
		address:    cfg.EndpointAddr,
		registry:   registry,
		mailbox:    mailbox,
		fanout:     fanout,
		operator:   operator,
		signingKey: auth.SigningKey(cfg.MasterSecret),
		logger:     logger.With("module", "http_server"),
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully and drains
// any fanout work still queued.
func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.newRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err.Error())
		}

		s.fanout.Wait()
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
