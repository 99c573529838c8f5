// Package session owns the single live messaging session: connection state,
// the pairing artifact, credential persistence and the reconnect loop.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"whatsapp-bridge/internal/credstore"
	applog "whatsapp-bridge/internal/log"
	"whatsapp-bridge/internal/metrics"
)

const defaultMessageBuffer = 256

type Options struct {
	ReconnectDelay      time.Duration
	ReconnectMaxDelay   time.Duration
	ReconnectMultiplier float64
	SendTimeout         time.Duration
	MessageBuffer       int
	Logger              *zerolog.Logger
	Now                 func() time.Time
}

// Connector drives a Transport through disconnected, connecting and connected.
// It is the only writer of connection state and of the credential store.
type Connector struct {
	transport Transport
	store     credstore.Store
	opts      Options
	logger    zerolog.Logger

	mu        sync.RWMutex
	snap      Snapshot
	subs      map[int]chan Snapshot
	nextSub   int
	observers []func(PairingArtifact)

	messages chan *RawMessage
	repair   chan struct{}
}

func NewConnector(t Transport, store credstore.Store, opts Options) *Connector {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = opts.ReconnectDelay
	}
	if opts.ReconnectMultiplier < 1 {
		opts.ReconnectMultiplier = 1
	}
	if opts.MessageBuffer <= 0 {
		opts.MessageBuffer = defaultMessageBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := applog.WithComponent("session")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Connector{
		transport: t,
		store:     store,
		opts:      opts,
		logger:    logger,
		subs:      make(map[int]chan Snapshot),
		messages:  make(chan *RawMessage, opts.MessageBuffer),
		repair:    make(chan struct{}, 1),
	}
	c.snap = Snapshot{State: StateDisconnected, Since: opts.Now()}
	metrics.SetConnectionState(string(StateDisconnected))
	return c
}

// Messages yields inbound messages in transport order. It is closed when Run returns.
func (c *Connector) Messages() <-chan *RawMessage {
	return c.messages
}

func (c *Connector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snap
	if s.Pairing != nil {
		p := *s.Pairing
		s.Pairing = &p
	}
	return s
}

func (c *Connector) State() State {
	return c.Snapshot().State
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Slow subscribers miss intermediate states, never the latest one.
func (c *Connector) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- c.snap
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

// OnPairing registers fn to be called with every new pairing artifact.
func (c *Connector) OnPairing(fn func(PairingArtifact)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// RequestPairing asks a parked or backing-off connector to start a new
// session right away. It fails when a session is already established.
func (c *Connector) RequestPairing() error {
	if c.State() == StateConnected {
		return ErrAlreadyConnected
	}
	select {
	case c.repair <- struct{}{}:
	default:
	}
	return nil
}

// Send delivers msg to the routing id to. It never queues: the caller gets
// ErrNotConnected unless a session is established.
func (c *Connector) Send(ctx context.Context, to string, msg *Outbound) (*SendResult, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if c.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SendTimeout)
		defer cancel()
	}
	res, err := c.transport.Send(ctx, to, msg)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil, err
		}
		return nil, &SendFailedError{To: to, Err: err}
	}
	return res, nil
}

// Download fetches the bytes behind an inbound media reference.
func (c *Connector) Download(ctx context.Context, ref *MediaRef) ([]byte, error) {
	return c.transport.Download(ctx, ref)
}

// Run keeps a session alive until ctx is cancelled. Transient closes are
// retried forever; a logout parks the connector until RequestPairing.
func (c *Connector) Run(ctx context.Context) error {
	defer close(c.messages)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectDelay
	bo.MaxInterval = c.opts.ReconnectMaxDelay
	bo.Multiplier = c.opts.ReconnectMultiplier
	bo.RandomizationFactor = 0
	bo.Reset()

	stopped := func() error {
		c.transition(func(s *Snapshot) {
			s.State = StateDisconnected
			s.Pairing = nil
		})
		c.logger.Info().Msg("session stopped")
		return nil
	}

	for {
		if ctx.Err() != nil {
			return stopped()
		}
		reason, connected, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return stopped()
		}
		if connected {
			bo.Reset()
		}

		if reason.Terminal() {
			c.logger.Warn().Msg("logged out from the phone; wiping credentials, waiting for re-pair")
			if werr := c.store.Wipe(ctx); werr != nil {
				c.logger.Error().Err(werr).Msg("failed to wipe credentials")
			}
			c.transition(func(s *Snapshot) {
				s.State = StateDisconnected
				s.Pairing = nil
				s.LoggedOut = true
			})
			select {
			case <-ctx.Done():
				return stopped()
			case <-c.repair:
			}
			c.logger.Info().Msg("re-pair requested")
			c.transition(func(s *Snapshot) { s.LoggedOut = false })
			bo.Reset()
			continue
		}

		delay := bo.NextBackOff()
		ev := c.logger.Warn().Str("reason", reason.String()).Dur("retry_in", delay)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("connection closed, reconnecting")
		metrics.ReconnectsTotal.WithLabelValues(reason.String()).Inc()
		c.transition(func(s *Snapshot) {
			s.State = StateDisconnected
			s.Pairing = nil
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
		case <-timer.C:
		case <-c.repair:
		}
		timer.Stop()
	}
}

// runSession performs one connect attempt and pumps its events until the
// session closes. connected reports whether the session got established.
func (c *Connector) runSession(ctx context.Context) (reason CloseReason, connected bool, err error) {
	creds, err := c.store.Load(ctx)
	switch {
	case errors.Is(err, credstore.ErrNoCredentials):
		creds = nil
	case err != nil:
		c.logger.Error().Err(err).Msg("stored credentials unreadable; starting a fresh pairing")
		c.wipe(ctx)
		creds = nil
	}

	c.transition(func(s *Snapshot) { s.State = StateConnecting })
	c.logger.Info().Bool("has_credentials", creds != nil).Msg("connecting")

	if err := c.transport.Connect(ctx, creds); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.logger.Error().Err(err).Msg("credentials rejected; starting a fresh pairing")
			c.wipe(ctx)
		}
		return CloseTransient, false, err
	}

	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			c.transport.Disconnect()
			return CloseTransient, connected, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return CloseTransient, connected, errors.New("transport event stream closed")
			}
			switch e := ev.(type) {
			case *PairingCodeEvent:
				c.handlePairing(e)
			case *ConnectedEvent:
				connected = true
				c.dropRepairRequest()
				c.transition(func(s *Snapshot) {
					s.State = StateConnected
					s.Pairing = nil
					s.LoggedOut = false
				})
				c.logger.Info().Msg("connected")
			case *CredentialsEvent:
				c.persist(ctx, e.Credentials)
			case *MessageEvent:
				select {
				case c.messages <- e.Message:
				case <-ctx.Done():
					c.transport.Disconnect()
					return CloseTransient, connected, ctx.Err()
				}
			case *DisconnectedEvent:
				return e.Reason, connected, e.Err
			}
		}
	}
}

// dropRepairRequest discards a RequestPairing made before the session came
// up, so it cannot cut short the backoff after a later close.
func (c *Connector) dropRepairRequest() {
	select {
	case <-c.repair:
		c.logger.Debug().Msg("pending re-pair request dropped, session established")
	default:
	}
}

func (c *Connector) handlePairing(e *PairingCodeEvent) {
	timeout := e.Timeout
	if timeout <= 0 || timeout > MaxPairingWindow {
		timeout = MaxPairingWindow
	}
	now := c.opts.Now()
	artifact := PairingArtifact{Code: e.Code, IssuedAt: now, ExpiresAt: now.Add(timeout)}
	c.transition(func(s *Snapshot) {
		s.State = StateConnecting
		s.Pairing = &artifact
	})
	metrics.PairingCodesTotal.Inc()
	c.logger.Info().Dur("expires_in", timeout).Msg("pairing code issued, scan it from the phone")

	c.mu.RLock()
	observers := append([]func(PairingArtifact){}, c.observers...)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(artifact)
	}
}

// persist saves synchronously; the next event is not handled until it returns.
func (c *Connector) persist(ctx context.Context, creds *credstore.Credentials) {
	if creds == nil {
		return
	}
	if err := c.store.Save(ctx, creds); err != nil {
		metrics.CredentialSavesTotal.WithLabelValues("error").Inc()
		c.logger.Error().Err(err).Msg("failed to persist credentials")
		return
	}
	metrics.CredentialSavesTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().Str("device", creds.DeviceID).Msg("credentials persisted")
}

func (c *Connector) wipe(ctx context.Context) {
	if err := c.store.Wipe(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to wipe credentials")
	}
}

// transition applies fn to the snapshot and publishes the result.
func (c *Connector) transition(fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.snap.State
	fn(&c.snap)
	if c.snap.State != prev {
		c.snap.Since = c.opts.Now()
		metrics.SetConnectionState(string(c.snap.State))
	}
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c.snap
	}
}
