package models

import "time"

// Message is one encrypted copy addressed to a single recipient. The id is
// assigned by the storage layer in append order and is the only valid
// ordering/cursor key. FromClientID is nil for server-originated publishes
// and equals ToClientID for a client's own loopback copy.
type Message struct {
	ID           int64
	FromClientID *string
	ToClientID   string
	Type         string
	Ciphertext   string
	Nonce        string
	Tag          string
	CreatedAt    time.Time
}
