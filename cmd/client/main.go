package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"edgerelay/internal/client/api"
	"edgerelay/internal/client/config"
	"edgerelay/internal/client/identity"
	"edgerelay/internal/client/polling"
	"edgerelay/internal/logging"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	apiClient := api.NewClient(cfg.ServerEndpointAddr)

	creds, err := identity.Ensure(ctx, apiClient, cfg.CredentialsFile, cfg.Name)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	apiClient.UseCredentials(creds.ClientID, creds.APIToken)

	handler := func(ctx context.Context, msg *polling.IncomingMessage) error {
		logger.Info(ctx, "message received",
			"id", msg.ID, "type", msg.Type, "payload", string(msg.Payload))
		return nil
	}

	poller, err := polling.New(apiClient, creds, handler,
		cfg.PollMinInterval, cfg.PollStep, cfg.PollMaxInterval, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	logger.Info(ctx, "client started", "client_id", creds.ClientID)

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("%v", err)
	}
}
