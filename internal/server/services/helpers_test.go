package services

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"edgerelay/internal/cryptox"
	"edgerelay/internal/logging"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/repositories/memory"
)

// testEnv wires the full service set over the in-process memory backend.
type testEnv struct {
	cfg      *config.Config
	rm       *memory.Manager
	registry *RegistryService
	mailbox  *MailboxService
	fanout   *FanoutEngine
	operator *OperatorService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabaseDSN = "memory"

	rm := memory.NewManager()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &testEnv{
		cfg:      cfg,
		rm:       rm,
		registry: NewRegistryService(nil, rm, cfg, logger),
		mailbox:  NewMailboxService(nil, rm, cfg, logger),
		fanout:   NewFanoutEngine(nil, rm, cfg, logger),
		operator: NewOperatorService(nil, rm, cfg, logger),
	}
}

// register is a shorthand that fails the test on any registration error.
func (e *testEnv) register(t *testing.T, fingerprint, name string) *Registration {
	t.Helper()

	reg, err := e.registry.Register(context.Background(), fingerprint, name)
	require.NoError(t, err)
	return reg
}

// rawKey decodes the base64 personal key issued at registration.
func rawKey(t *testing.T, reg *Registration) []byte {
	t.Helper()

	key, err := base64.StdEncoding.DecodeString(reg.PersonalKey)
	require.NoError(t, err)
	require.Len(t, key, cryptox.KeySize)
	return key
}

// waitDelivered polls the engine's delivery counter until it reaches want or
// the deadline passes. Fanout chunks run on the engine's worker group, so
// counters settle shortly after Publish returns.
func waitDelivered(t *testing.T, engine *FanoutEngine, want int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.Delivered() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, engine.Delivered(), want)
}
