// Package credstore persists the multi-device Credential Set across restarts.
//
// Writes are serialized inside each backend: a torn or interleaved write would
// strand the session until the operator re-pairs.
package credstore

import (
	"context"
	"errors"
	"time"
)

// ErrNoCredentials is returned by Load when nothing has been paired yet.
var ErrNoCredentials = errors.New("no stored credentials")

// Credentials is the durable record of a linked device.
type Credentials struct {
	DeviceID  string    `json:"device_id"`
	PushName  string    `json:"push_name,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	PairedAt  time.Time `json:"paired_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is implemented by every credential backend.
type Store interface {
	// Load returns ErrNoCredentials when nothing is stored.
	Load(ctx context.Context) (*Credentials, error)
	// Save replaces the stored set and returns only once it is durable.
	Save(ctx context.Context, creds *Credentials) error
	// Wipe removes the stored set. Wiping an empty store is not an error.
	Wipe(ctx context.Context) error
}
