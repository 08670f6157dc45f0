package models

import "time"

// Client is one registered edge device. The fingerprint is a stable,
// client-supplied identifier used to deduplicate registrations; at most one
// row exists per fingerprint and the id never changes once created.
//
// APITokenHash is the one-way verifier for bearer authentication.
// APITokenWrapped and EncKeyWrapped hold the reissuable token and the
// per-client AES key sealed under the server master wrap key; the raw values
// never touch storage.
type Client struct {
	ID              string
	Name            string
	Fingerprint     string
	APITokenHash    string
	APITokenWrapped string
	EncKeyWrapped   string
	LastSeenAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
