package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"whatsapp-bridge/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleEvent() *models.InboundEvent {
	name := "Ahmet"
	ts := int64(1700000000)
	return &models.InboundEvent{
		Channel:   models.ChannelWhatsApp,
		FromPhone: "905551234567",
		FromName:  &name,
		Content:   "Merhaba",
		MessageID: "3EB0",
		Timestamp: &ts,
	}
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestDeliverPostsJSONWithToken(t *testing.T) {
	var gotAuth, gotType string
	var gotBody map[string]any
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	d := NewDispatcher(Options{URL: srv.URL, Token: "s3cret", Client: srv.Client()}, zerolog.Nop())
	require.NoError(t, d.Deliver(context.Background(), sampleEvent()))

	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "whatsapp", gotBody["channel"])
	assert.Equal(t, "905551234567", gotBody["from_phone"])
	assert.Equal(t, "Ahmet", gotBody["from_name"])
	assert.Equal(t, float64(1700000000), gotBody["timestamp"])
	assert.NotContains(t, gotBody, "attachments")
}

func TestDeliverWithoutToken(t *testing.T) {
	var gotAuth string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	})
	d := NewDispatcher(Options{URL: srv.URL, Client: srv.Client()}, zerolog.Nop())
	require.NoError(t, d.Deliver(context.Background(), sampleEvent()))
	assert.Empty(t, gotAuth)
}

func TestDeliverNon2xxIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "customer lookup failed", http.StatusInternalServerError)
	})
	d := NewDispatcher(Options{URL: srv.URL, Client: srv.Client()}, zerolog.Nop())

	err := d.Deliver(context.Background(), sampleEvent())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Contains(t, statusErr.Body, "customer lookup failed")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchDoesNotBlockAndTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	d := NewDispatcher(Options{URL: srv.URL, Timeout: 50 * time.Millisecond, Concurrency: 2, Client: srv.Client()}, zerolog.Nop())

	start := time.Now()
	assert.True(t, d.Dispatch(sampleEvent()))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatchQueuesBurstBeyondWorkers(t *testing.T) {
	var delivered atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		delivered.Add(1)
	})

	d := NewDispatcher(Options{URL: srv.URL, Concurrency: 2, Client: srv.Client()}, zerolog.Nop())
	start := time.Now()
	for i := 0; i < 12; i++ {
		require.True(t, d.Dispatch(sampleEvent()), "event %d", i)
	}
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(12), delivered.Load())
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var delivered atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		delivered.Add(1)
	})

	d := NewDispatcher(Options{URL: srv.URL, Concurrency: 1, QueueSize: 1, Client: srv.Client()}, zerolog.Nop())
	require.True(t, d.Dispatch(sampleEvent()))
	<-entered
	assert.True(t, d.Dispatch(sampleEvent()), "one event waits in the queue")
	assert.False(t, d.Dispatch(sampleEvent()), "queue is full")

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(2), delivered.Load())
	assert.False(t, d.Dispatch(sampleEvent()), "closed dispatcher accepts nothing")
}

func TestCloseWithoutDispatch(t *testing.T) {
	d := NewDispatcher(Options{URL: "http://127.0.0.1:1"}, zerolog.Nop())
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Dispatch(sampleEvent()))
}

func TestCloseDeadlineCancelsQueuedDeliveries(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	d := NewDispatcher(Options{URL: srv.URL, Timeout: time.Minute, Concurrency: 1, Client: srv.Client()}, zerolog.Nop())
	for i := 0; i < 3; i++ {
		require.True(t, d.Dispatch(sampleEvent()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	// Remaining deliveries fail fast once abandoned.
	drain, cancelDrain := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDrain()
	require.NoError(t, d.Close(drain))
}

func TestCloseDrainsInFlight(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
	})

	d := NewDispatcher(Options{URL: srv.URL, Concurrency: 4, Client: srv.Client()}, zerolog.Nop())
	for i := 0; i < 3; i++ {
		require.True(t, d.Dispatch(sampleEvent()))
	}
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, bodies, 3)
}
