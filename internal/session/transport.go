package session

import (
	"context"
	"time"

	"whatsapp-bridge/internal/credstore"
)

// Transport is the messaging-protocol capability the connector drives. The
// whatsmeow adapter implements it; tests use an in-memory fake.
type Transport interface {
	// Connect opens a session with creds, or starts pairing when creds is nil.
	// It returns once the socket is open; progress arrives on Events.
	Connect(ctx context.Context, creds *credstore.Credentials) error
	// Disconnect closes the session without unlinking the device.
	Disconnect()
	Send(ctx context.Context, to string, msg *Outbound) (*SendResult, error)
	Download(ctx context.Context, ref *MediaRef) ([]byte, error)
	// Events is delivered in protocol order for the lifetime of the transport.
	Events() <-chan Event
}

// Event is one typed notification from the transport.
type Event interface {
	event()
}

// PairingCodeEvent carries a fresh QR payload and how long the network honors it.
type PairingCodeEvent struct {
	Code    string
	Timeout time.Duration
}

type ConnectedEvent struct{}

type DisconnectedEvent struct {
	Reason CloseReason
	Err    error
}

// CredentialsEvent is emitted whenever the protocol updates the durable set.
type CredentialsEvent struct {
	Credentials *credstore.Credentials
}

type MessageEvent struct {
	Message *RawMessage
}

func (*PairingCodeEvent) event()  {}
func (*ConnectedEvent) event()    {}
func (*DisconnectedEvent) event() {}
func (*CredentialsEvent) event()  {}
func (*MessageEvent) event()      {}

// CloseReason classifies why a session ended.
type CloseReason int

const (
	CloseTransient CloseReason = iota
	ClosePairingTimeout
	CloseLoggedOut
)

// Terminal reports whether reconnecting with the same credentials is pointless.
func (r CloseReason) Terminal() bool {
	return r == CloseLoggedOut
}

func (r CloseReason) String() string {
	switch r {
	case ClosePairingTimeout:
		return "pairing_timeout"
	case CloseLoggedOut:
		return "logged_out"
	default:
		return "transient"
	}
}

// MediaKind is the protocol media family.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// RawMessage is a transport message before relay filtering.
type RawMessage struct {
	ID         string
	Chat       string // conversation routing id
	Sender     string // sender routing id, possibly a privacy id
	RealSender string // phone-number routing id when the transport distinguishes it
	PushName   string
	FromMe     bool
	IsGroup    bool
	Broadcast  bool // status updates and broadcast lists
	Notify     bool // live delivery, as opposed to history sync
	Timestamp  time.Time

	Text         string // plain conversation text
	ExtendedText string // extended/quoted text
	Media        []*MediaRef
}

// MediaRef points at a downloadable attachment. Source is transport-specific.
type MediaRef struct {
	Kind     MediaKind
	MimeType string
	FileName string
	Caption  string
	Source   any
}

// Outbound is one message handed to the send primitive: text, or one media
// item with an optional caption.
type Outbound struct {
	Text  string
	Media *OutboundMedia
}

type OutboundMedia struct {
	Kind     MediaKind
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	ID        string
	Timestamp time.Time
}
