package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgerelay/internal/client/api"
	"edgerelay/internal/cryptox"
)

func newRegisterServer(t *testing.T, fingerprints *[]string) *httptest.Server {
	t.Helper()

	key := base64.StdEncoding.EncodeToString(make([]byte, cryptox.KeySize))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/clients/register", r.URL.Path)

		var req struct {
			Fingerprint string `json:"fingerprint"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*fingerprints = append(*fingerprints, req.Fingerprint)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"client_id":    "11111111-1111-1111-1111-111111111111",
			"api_token":    "issued-token",
			"personal_key": key,
		})
	}))
}

func TestLoadMissingFile(t *testing.T) {
	creds, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")

	want := &Credentials{
		Fingerprint: "fp",
		ClientID:    "id",
		APIToken:    "token",
		PersonalKey: base64.StdEncoding.EncodeToString(make([]byte, cryptox.KeySize)),
	}
	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	key, err := got.Key()
	require.NoError(t, err)
	assert.Len(t, key, cryptox.KeySize)
}

func TestEnsureRegistersAndPersistsFingerprint(t *testing.T) {
	var fingerprints []string
	ts := newRegisterServer(t, &fingerprints)
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "creds.json")
	client := api.NewClient(ts.URL)

	first, err := Ensure(context.Background(), client, path, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "issued-token", first.APIToken)
	assert.NotEmpty(t, first.Fingerprint)

	// A second startup presents the same fingerprint.
	second, err := Ensure(context.Background(), client, path, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	require.Len(t, fingerprints, 2)
	assert.Equal(t, fingerprints[0], fingerprints[1])
}

func TestEnsureToleratesOfflineStartWithFullRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")

	saved := &Credentials{
		Fingerprint: "fp",
		ClientID:    "id",
		APIToken:    "token",
		PersonalKey: base64.StdEncoding.EncodeToString(make([]byte, cryptox.KeySize)),
	}
	require.NoError(t, Save(path, saved))

	// Unreachable server; the cached record carries the start.
	client := api.NewClient("http://127.0.0.1:1")

	creds, err := Ensure(context.Background(), client, path, "")
	require.NoError(t, err)
	assert.Equal(t, saved, creds)
}

func TestEnsureFailsOfflineWithoutRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	client := api.NewClient("http://127.0.0.1:1")

	_, err := Ensure(context.Background(), client, path, "")
	assert.Error(t, err)
}
