package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgerelay/internal/common"
	"edgerelay/internal/dbx"
	"edgerelay/internal/server/models"
	"edgerelay/internal/server/repositories/clients"
	"edgerelay/internal/server/repositories/repomanager"
)

func TestRegisterIssuesCredentials(t *testing.T) {
	env := newTestEnv(t)

	reg := env.register(t, "fp-alpha", "sensor-1")

	assert.True(t, reg.Created)
	assert.NoError(t, uuid.Validate(reg.ClientID))
	assert.NotEmpty(t, reg.APIToken)
	rawKey(t, reg)

	client, err := env.rm.Clients(nil).GetByID(context.Background(), reg.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", client.Name)
	assert.Equal(t, "fp-alpha", client.Fingerprint)
	// only hashed and wrapped forms are stored
	assert.NotEqual(t, reg.APIToken, client.APITokenHash)
	assert.NotEmpty(t, client.APITokenWrapped)
	assert.NotEmpty(t, client.EncKeyWrapped)
}

func TestRegisterRequiresFingerprint(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.registry.Register(context.Background(), "", "sensor-1")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestRegisterIsIdempotentByFingerprint(t *testing.T) {
	env := newTestEnv(t)

	first := env.register(t, "fp-alpha", "sensor-1")
	second := env.register(t, "fp-alpha", "sensor-1")

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.Equal(t, first.APIToken, second.APIToken)
	assert.Equal(t, first.PersonalKey, second.PersonalKey)
}

func TestRegisterUpdatesNameOnReuse(t *testing.T) {
	env := newTestEnv(t)

	reg := env.register(t, "fp-alpha", "old-name")
	env.register(t, "fp-alpha", "new-name")

	client, err := env.rm.Clients(nil).GetByID(context.Background(), reg.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "new-name", client.Name)
}

func TestRegisterKeepsNameWhenOmitted(t *testing.T) {
	env := newTestEnv(t)

	reg := env.register(t, "fp-alpha", "keep-me")
	env.register(t, "fp-alpha", "")

	client, err := env.rm.Clients(nil).GetByID(context.Background(), reg.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", client.Name)
}

func TestRegisterRotatesCorruptCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.register(t, "fp-alpha", "sensor-1")

	// Damage the stored material so recovery fails.
	repo := env.rm.Clients(nil)
	err := repo.UpdateCredentials(ctx, first.ClientID, "sensor-1", "deadbeef", "not-base64!!", "not-base64!!")
	require.NoError(t, err)

	second := env.register(t, "fp-alpha", "")

	assert.Equal(t, first.ClientID, second.ClientID)
	assert.False(t, second.Created)
	assert.NotEqual(t, first.APIToken, second.APIToken)
	assert.NotEqual(t, first.PersonalKey, second.PersonalKey)

	// Rotated credentials are recoverable on the next retry.
	third := env.register(t, "fp-alpha", "")
	assert.Equal(t, second.APIToken, third.APIToken)
	assert.Equal(t, second.PersonalKey, third.PersonalKey)
}

// racingClientsRepo misses the fingerprint lookup once, simulating a
// concurrent registration that commits between this caller's lookup and its
// insert. The delegated Create then collides with the winner's row.
type racingClientsRepo struct {
	clients.Repository
	missed bool
}

func (r *racingClientsRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Client, error) {
	if !r.missed {
		r.missed = true
		return nil, common.ErrorNotFound
	}
	return r.Repository.GetByFingerprint(ctx, fingerprint)
}

type racingManager struct {
	repomanager.RepositoryManager
	repo *racingClientsRepo
}

func (m *racingManager) Clients(db dbx.DBTX) clients.Repository { return m.repo }

func TestRegisterRaceLoserRecoversWinnerCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	winner := env.register(t, "fp-alpha", "sensor-1")

	rm := &racingManager{
		RepositoryManager: env.rm,
		repo:              &racingClientsRepo{Repository: env.rm.Clients(nil)},
	}
	racer := NewRegistryService(nil, rm, env.cfg, env.registry.logger)

	loser, err := racer.Register(ctx, "fp-alpha", "sensor-1")
	require.NoError(t, err)

	// The loser never errors and never mints a second identity: it hands
	// back exactly the credentials the winner already received.
	assert.False(t, loser.Created)
	assert.Equal(t, winner.ClientID, loser.ClientID)
	assert.Equal(t, winner.APIToken, loser.APIToken)
	assert.Equal(t, winner.PersonalKey, loser.PersonalKey)

	all, err := env.rm.Clients(nil).List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg := env.register(t, "fp-alpha", "sensor-1")

	client, err := env.registry.Authenticate(ctx, reg.ClientID, reg.APIToken)
	require.NoError(t, err)
	assert.Equal(t, reg.ClientID, client.ID)

	_, err = env.registry.Authenticate(ctx, reg.ClientID, "wrong-token")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = env.registry.Authenticate(ctx, uuid.NewString(), reg.APIToken)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = env.registry.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestClientKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg := env.register(t, "fp-alpha", "sensor-1")
	client, err := env.rm.Clients(nil).GetByID(ctx, reg.ClientID)
	require.NoError(t, err)

	key, err := env.registry.ClientKey(client)
	require.NoError(t, err)
	assert.Equal(t, rawKey(t, reg), key)
}
