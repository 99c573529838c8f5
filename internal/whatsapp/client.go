// Package whatsapp adapts whatsmeow to the session.Transport capability.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"whatsapp-bridge/internal/credstore"
	"whatsapp-bridge/internal/session"
)

const eventBuffer = 64

// Client owns at most one whatsmeow client at a time. Each Connect starts a
// new generation; events from retired generations are dropped.
type Client struct {
	container *sqlstore.Container
	logger    zerolog.Logger
	events    chan session.Event

	mu       sync.Mutex
	cli      *whatsmeow.Client
	gen      uint64
	stop     chan struct{}
	finished bool
	cancelQR context.CancelFunc
}

var _ session.Transport = (*Client)(nil)

func NewClient(container *sqlstore.Container, deviceName string, logger zerolog.Logger) *Client {
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &Client{
		container: container,
		logger:    logger,
		events:    make(chan session.Event, eventBuffer),
	}
}

func (c *Client) Events() <-chan session.Event {
	return c.events
}

// Connect opens a socket for the device named by creds, or for a brand new
// device when creds is nil. A new device offers QR codes on Events.
func (c *Client) Connect(ctx context.Context, creds *credstore.Credentials) error {
	device, err := c.device(ctx, creds)
	if err != nil {
		return err
	}
	c.Disconnect()

	cli := whatsmeow.NewClient(device, waLog.Zerolog(c.logger.With().Str("component", "whatsmeow").Logger()))
	cli.EnableAutoReconnect = false

	qrCtx, cancelQR := context.WithCancel(context.Background())
	c.mu.Lock()
	c.gen++
	gen := c.gen
	stop := make(chan struct{})
	c.cli, c.stop, c.finished, c.cancelQR = cli, stop, false, cancelQR
	c.mu.Unlock()

	cli.AddEventHandler(func(evt any) {
		c.handle(gen, stop, cli, evt)
	})

	if cli.Store.ID == nil {
		qrCh, err := cli.GetQRChannel(qrCtx)
		if err != nil {
			c.Disconnect()
			return fmt.Errorf("open pairing channel: %w", err)
		}
		go c.watchQR(gen, stop, qrCh)
	}

	if err := cli.Connect(); err != nil {
		c.Disconnect()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect retires the current generation and closes its socket. The
// device stays linked.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cli, stop, cancelQR := c.cli, c.stop, c.cancelQR
	c.cli, c.stop, c.cancelQR = nil, nil, nil
	c.finished = true
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if cancelQR != nil {
		cancelQR()
	}
	if cli != nil {
		cli.Disconnect()
	}
}

func (c *Client) Send(ctx context.Context, to string, msg *session.Outbound) (*session.SendResult, error) {
	cli := c.current()
	if cli == nil || !cli.IsConnected() || !cli.IsLoggedIn() {
		return nil, session.ErrNotConnected
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return nil, fmt.Errorf("parse destination %q: %w", to, err)
	}

	var out = textMessage(msg.Text)
	if msg.Media != nil {
		up, err := cli.Upload(ctx, msg.Media.Data, uploadType(msg.Media.Kind))
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", msg.Media.Kind, err)
		}
		out = mediaMessage(msg.Media, up)
	}

	resp, err := cli.SendMessage(ctx, jid, out)
	if err != nil {
		return nil, err
	}
	return &session.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *Client) Download(ctx context.Context, ref *session.MediaRef) ([]byte, error) {
	d, ok := ref.Source.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("media reference of type %T is not downloadable", ref.Source)
	}
	cli := c.current()
	if cli == nil {
		return nil, session.ErrNotConnected
	}
	return cli.Download(ctx, d)
}

func (c *Client) current() *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli
}

func (c *Client) device(ctx context.Context, creds *credstore.Credentials) (*store.Device, error) {
	if creds == nil {
		return c.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(creds.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device id %q: %v", session.ErrInvalidCredentials, creds.DeviceID, err)
	}
	device, err := c.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device %s: %w", jid, err)
	}
	if device == nil {
		return nil, fmt.Errorf("%w: device %s missing from key store", session.ErrInvalidCredentials, jid)
	}
	return device, nil
}

func (c *Client) handle(gen uint64, stop chan struct{}, cli *whatsmeow.Client, evt any) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.emit(gen, stop, &session.CredentialsEvent{Credentials: &credstore.Credentials{
			DeviceID:  v.ID.String(),
			PushName:  v.BusinessName,
			Platform:  v.Platform,
			PairedAt:  time.Now(),
			UpdatedAt: time.Now(),
		}})
	case *events.Connected:
		if creds := deviceCredentials(cli.Store); creds != nil {
			c.emit(gen, stop, &session.CredentialsEvent{Credentials: creds})
		}
		c.emit(gen, stop, &session.ConnectedEvent{})
	case *events.PushNameSetting:
		if creds := deviceCredentials(cli.Store); creds != nil {
			creds.PushName = v.Action.GetName()
			c.emit(gen, stop, &session.CredentialsEvent{Credentials: creds})
		}
	case *events.Message:
		c.emit(gen, stop, &session.MessageEvent{Message: ConvertMessage(v)})
	case *events.LoggedOut:
		c.finish(gen, stop, &session.DisconnectedEvent{
			Reason: session.CloseLoggedOut,
			Err:    fmt.Errorf("logged out: %s", v.Reason),
		})
	case *events.ConnectFailure:
		reason := session.CloseTransient
		if v.Reason.IsLoggedOut() {
			reason = session.CloseLoggedOut
		}
		c.finish(gen, stop, &session.DisconnectedEvent{
			Reason: reason,
			Err:    fmt.Errorf("connect failure %d: %s", int(v.Reason), v.Message),
		})
	case *events.StreamReplaced:
		c.finish(gen, stop, &session.DisconnectedEvent{Err: errors.New("stream replaced by another connection")})
	case *events.TemporaryBan:
		c.finish(gen, stop, &session.DisconnectedEvent{Err: fmt.Errorf("temporary ban: %s", v.String())})
	case *events.ClientOutdated:
		c.finish(gen, stop, &session.DisconnectedEvent{Err: errors.New("client version outdated")})
	case *events.Disconnected:
		c.finish(gen, stop, &session.DisconnectedEvent{Err: errors.New("websocket disconnected")})
	}
}

func (c *Client) watchQR(gen uint64, stop chan struct{}, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.emit(gen, stop, &session.PairingCodeEvent{Code: item.Code, Timeout: item.Timeout})
		case "success":
		case "timeout":
			c.finish(gen, stop, &session.DisconnectedEvent{
				Reason: session.ClosePairingTimeout,
				Err:    errors.New("pairing codes expired unscanned"),
			})
		default:
			err := item.Error
			if err == nil {
				err = errors.New(item.Event)
			}
			c.finish(gen, stop, &session.DisconnectedEvent{Err: fmt.Errorf("pairing: %w", err)})
		}
	}
}

func (c *Client) emit(gen uint64, stop chan struct{}, ev session.Event) {
	c.mu.Lock()
	live := gen == c.gen && !c.finished
	c.mu.Unlock()
	if !live {
		return
	}
	select {
	case c.events <- ev:
	case <-stop:
	}
}

// finish emits the single close event of a generation.
func (c *Client) finish(gen uint64, stop chan struct{}, ev *session.DisconnectedEvent) {
	c.mu.Lock()
	if gen != c.gen || c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()

	select {
	case c.events <- ev:
	case <-stop:
	}
}

func deviceCredentials(d *store.Device) *credstore.Credentials {
	if d == nil || d.ID == nil {
		return nil
	}
	return &credstore.Credentials{
		DeviceID:  d.ID.String(),
		PushName:  d.PushName,
		Platform:  d.Platform,
		UpdatedAt: time.Now(),
	}
}
