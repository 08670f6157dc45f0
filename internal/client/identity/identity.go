// Package identity manages the edge client's persistent identity: the
// device fingerprint and the credentials issued by the relay.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"edgerelay/internal/client/api"
	"edgerelay/internal/common"
	"edgerelay/internal/cryptox"
)

// Credentials is the on-disk identity record. The personal key is stored
// base64-encoded, same as the server hands it out.
type Credentials struct {
	Fingerprint string `json:"fingerprint"`
	ClientID    string `json:"client_id"`
	APIToken    string `json:"api_token"`
	PersonalKey string `json:"personal_key"`
}

// Key decodes the personal encryption key.
func (c *Credentials) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.PersonalKey)
	if err != nil {
		return nil, fmt.Errorf("credentials key decode error: %w", err)
	}
	if len(key) != cryptox.KeySize {
		return nil, fmt.Errorf("credentials key has wrong length %d", len(key))
	}
	return key, nil
}

// Load reads credentials from path. A missing file yields (nil, nil).
func Load(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	creds := &Credentials{}
	if err := json.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("credentials parse error: %w", err)
	}
	return creds, nil
}

// Save writes credentials to path, readable by the owner only.
func Save(path string, creds *Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Ensure returns working credentials, registering with the relay when
// needed. Registration is idempotent on the fingerprint, so calling this on
// every startup is safe: an intact server record returns the same token and
// key, a lost one is silently rotated, and the refreshed result is saved.
func Ensure(ctx context.Context, client *api.Client, path, name string) (*Credentials, error) {
	creds, err := Load(path)
	if err != nil {
		return nil, err
	}

	if creds == nil {
		creds = &Credentials{}
	}
	if creds.Fingerprint == "" {
		fingerprint, err := common.MakeRandBase64String(32)
		if err != nil {
			return nil, err
		}
		creds.Fingerprint = fingerprint
	}

	result, err := client.Register(ctx, creds.Fingerprint, name)
	if err != nil {
		// Offline start is fine as long as a full record exists locally.
		if creds.ClientID != "" && creds.APIToken != "" && creds.PersonalKey != "" {
			return creds, nil
		}
		return nil, fmt.Errorf("registration error: %w", err)
	}

	creds.ClientID = result.ClientID
	creds.APIToken = result.APIToken
	creds.PersonalKey = result.PersonalKey

	if err := Save(path, creds); err != nil {
		return nil, fmt.Errorf("credentials save error: %w", err)
	}
	return creds, nil
}
