package whatsapp

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"whatsapp-bridge/internal/session"
)

// liveClient returns an adapter positioned on generation 1 without a socket.
func liveClient(t *testing.T) (*Client, chan struct{}) {
	t.Helper()
	c := NewClient(nil, "", zerolog.Nop())
	stop := make(chan struct{})
	c.mu.Lock()
	c.gen, c.stop, c.finished = 1, stop, false
	c.mu.Unlock()
	t.Cleanup(func() { close(stop) })
	return c, stop
}

func nextEvent(t *testing.T, c *Client) session.Event {
	t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
		return nil
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

func TestHandleCloseReasons(t *testing.T) {
	cases := []struct {
		name   string
		evt    any
		reason session.CloseReason
	}{
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}, session.CloseLoggedOut},
		{"connect failure logged out", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, session.CloseLoggedOut},
		{"connect failure main device gone", &events.ConnectFailure{Reason: events.ConnectFailureMainDeviceGone}, session.CloseLoggedOut},
		{"connect failure unknown logout", &events.ConnectFailure{Reason: events.ConnectFailureUnknownLogout}, session.CloseLoggedOut},
		{"connect failure service unavailable", &events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, session.CloseTransient},
		{"connect failure temp banned", &events.ConnectFailure{Reason: events.ConnectFailureTempBanned}, session.CloseTransient},
		{"stream replaced", &events.StreamReplaced{}, session.CloseTransient},
		{"temporary ban", &events.TemporaryBan{Expire: time.Hour}, session.CloseTransient},
		{"client outdated", &events.ClientOutdated{}, session.CloseTransient},
		{"socket dropped", &events.Disconnected{}, session.CloseTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, stop := liveClient(t)
			c.handle(1, stop, nil, tc.evt)

			ev := nextEvent(t, c)
			closed, ok := ev.(*session.DisconnectedEvent)
			require.True(t, ok, "got %T", ev)
			assert.Equal(t, tc.reason, closed.Reason)
			assert.Error(t, closed.Err)
			assert.Equal(t, tc.reason == session.CloseLoggedOut, closed.Reason.Terminal())
		})
	}
}

func TestHandleEmitsOneClosePerGeneration(t *testing.T) {
	c, stop := liveClient(t)
	c.handle(1, stop, nil, &events.Disconnected{})
	c.handle(1, stop, nil, &events.LoggedOut{})
	c.handle(1, stop, nil, &events.StreamReplaced{})

	closed := nextEvent(t, c).(*session.DisconnectedEvent)
	assert.Equal(t, session.CloseTransient, closed.Reason)
	assertNoEvent(t, c)

	c.handle(1, stop, nil, &events.PairSuccess{ID: types.NewJID("905551234567", types.DefaultUserServer)})
	assertNoEvent(t, c)
}

func TestHandleDropsRetiredGeneration(t *testing.T) {
	c, stop := liveClient(t)
	c.mu.Lock()
	c.gen = 2
	c.mu.Unlock()

	c.handle(1, stop, nil, &events.LoggedOut{})
	c.handle(1, stop, nil, &events.PairSuccess{ID: types.NewJID("905551234567", types.DefaultUserServer)})
	assertNoEvent(t, c)

	c.handle(2, stop, nil, &events.Disconnected{})
	assert.IsType(t, &session.DisconnectedEvent{}, nextEvent(t, c))
}

func TestDisconnectRetiresGeneration(t *testing.T) {
	c := NewClient(nil, "", zerolog.Nop())
	stop := make(chan struct{})
	c.mu.Lock()
	c.gen, c.stop = 1, stop
	c.mu.Unlock()

	c.Disconnect()
	c.handle(1, stop, nil, &events.Disconnected{})
	assertNoEvent(t, c)
	assert.Nil(t, c.current())
}

func TestHandlePairSuccess(t *testing.T) {
	c, stop := liveClient(t)
	jid := types.JID{User: "905551234567", Device: 12, Server: types.DefaultUserServer}
	c.handle(1, stop, nil, &events.PairSuccess{ID: jid, BusinessName: "Acme", Platform: "android"})

	ev, ok := nextEvent(t, c).(*session.CredentialsEvent)
	require.True(t, ok)
	assert.Equal(t, jid.String(), ev.Credentials.DeviceID)
	assert.Equal(t, "Acme", ev.Credentials.PushName)
	assert.Equal(t, "android", ev.Credentials.Platform)
	assert.False(t, ev.Credentials.PairedAt.IsZero())
}

func TestWatchQR(t *testing.T) {
	cases := []struct {
		name   string
		items  []whatsmeow.QRChannelItem
		codes  []string
		reason session.CloseReason
		closes bool
	}{
		{
			name: "codes then timeout",
			items: []whatsmeow.QRChannelItem{
				{Event: "code", Code: "2@abc", Timeout: time.Minute},
				{Event: "code", Code: "2@def", Timeout: 20 * time.Second},
				{Event: "timeout"},
			},
			codes:  []string{"2@abc", "2@def"},
			reason: session.ClosePairingTimeout,
			closes: true,
		},
		{
			name: "pairing error",
			items: []whatsmeow.QRChannelItem{
				{Event: "code", Code: "2@abc", Timeout: time.Minute},
				{Event: "error", Error: errors.New("bad signature")},
			},
			codes:  []string{"2@abc"},
			reason: session.CloseTransient,
			closes: true,
		},
		{
			name: "success leaves close to the socket",
			items: []whatsmeow.QRChannelItem{
				{Event: "code", Code: "2@abc", Timeout: time.Minute},
				{Event: "success"},
			},
			codes: []string{"2@abc"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, stop := liveClient(t)
			ch := make(chan whatsmeow.QRChannelItem, len(tc.items))
			for _, item := range tc.items {
				ch <- item
			}
			close(ch)
			c.watchQR(1, stop, ch)

			for i, code := range tc.codes {
				ev, ok := nextEvent(t, c).(*session.PairingCodeEvent)
				require.True(t, ok)
				assert.Equal(t, code, ev.Code)
				assert.Equal(t, tc.items[i].Timeout, ev.Timeout)
			}
			if tc.closes {
				closed, ok := nextEvent(t, c).(*session.DisconnectedEvent)
				require.True(t, ok)
				assert.Equal(t, tc.reason, closed.Reason)
			}
			assertNoEvent(t, c)
		})
	}
}

func TestWatchQRTimeoutAfterSocketClose(t *testing.T) {
	c, stop := liveClient(t)
	c.handle(1, stop, nil, &events.Disconnected{})

	ch := make(chan whatsmeow.QRChannelItem, 1)
	ch <- whatsmeow.QRChannelItem{Event: "timeout"}
	close(ch)
	c.watchQR(1, stop, ch)

	closed := nextEvent(t, c).(*session.DisconnectedEvent)
	assert.Equal(t, session.CloseTransient, closed.Reason)
	assertNoEvent(t, c)
}
