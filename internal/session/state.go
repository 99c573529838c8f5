package session

import "time"

// State is the process-wide connection state. Only the Connector writes it.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// MaxPairingWindow bounds how long any pairing code is offered.
const MaxPairingWindow = 120 * time.Second

// PairingArtifact is a QR payload offered while the bridge is unauthenticated.
// It lives in memory only.
type PairingArtifact struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a PairingArtifact) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// ExpiresIn is the remaining validity, never negative.
func (a PairingArtifact) ExpiresIn(now time.Time) time.Duration {
	if d := a.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Snapshot is an immutable view of the connector for readers.
type Snapshot struct {
	State     State            `json:"state"`
	Pairing   *PairingArtifact `json:"pairing,omitempty"`
	LoggedOut bool             `json:"loggedOut"` // waiting for an operator to re-pair
	Since     time.Time        `json:"since"`
}

func (s Snapshot) Connected() bool {
	return s.State == StateConnected
}

// ActivePairing returns the pairing artifact unless it has expired at now.
func (s Snapshot) ActivePairing(now time.Time) *PairingArtifact {
	if s.Pairing == nil || s.Pairing.Expired(now) {
		return nil
	}
	return s.Pairing
}
