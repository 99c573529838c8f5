// Package webhook delivers inbound message events to the CRM backend.
// Delivery is best-effort and at-most-once: failures are logged, never retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"whatsapp-bridge/internal/metrics"
	"whatsapp-bridge/pkg/models"
)

const maxErrorBody = 1024

// StatusError is returned for a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook responded %d: %s", e.Code, e.Body)
}

type Options struct {
	URL         string
	Token       string
	Timeout     time.Duration
	Concurrency int
	QueueSize   int
	Client      *http.Client
}

// Dispatcher queues events for a fixed pool of delivery workers.
type Dispatcher struct {
	url         string
	token       string
	timeout     time.Duration
	concurrency int
	client      *http.Client
	logger      zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan *models.InboundEvent
	start   sync.Once
	group   errgroup.Group
	base    context.Context
	abandon context.CancelFunc
}

func NewDispatcher(opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	base, abandon := context.WithCancel(context.Background())
	return &Dispatcher{
		url:         opts.URL,
		token:       opts.Token,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		client:      opts.Client,
		logger:      logger,
		queue:       make(chan *models.InboundEvent, opts.QueueSize),
		base:        base,
		abandon:     abandon,
	}
}

// Dispatch queues ev for delivery and returns immediately. It reports false
// when the event was dropped because the queue is full or the dispatcher is
// closed.
func (d *Dispatcher) Dispatch(ev *models.InboundEvent) bool {
	d.start.Do(d.startWorkers)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.IncWebhook("dropped")
		d.logger.Warn().Str("message_id", ev.MessageID).Msg("webhook dispatcher closed, event dropped")
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		metrics.IncWebhook("dropped")
		d.logger.Warn().Str("message_id", ev.MessageID).Int("queued", len(d.queue)).Msg("webhook queue full, event dropped")
		return false
	}
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.concurrency; i++ {
		d.group.Go(func() error {
			for ev := range d.queue {
				ctx, cancel := context.WithTimeout(d.base, d.timeout)
				_ = d.Deliver(ctx, ev)
				cancel()
			}
			return nil
		})
	}
}

// Deliver posts ev once and logs the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, ev *models.InboundEvent) error {
	start := time.Now()
	err := d.post(ctx, ev)
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())

	logEv := d.logger.Info()
	if err != nil {
		metrics.IncWebhook("error")
		logEv = d.logger.Error().Err(err)
	} else {
		metrics.IncWebhook("ok")
	}
	logEv.
		Str("message_id", ev.MessageID).
		Str("from_phone", ev.FromPhone).
		Int("attachments", len(ev.Attachments)).
		Dur("took", time.Since(start)).
		Msg("webhook delivery")
	return err
}

func (d *Dispatcher) post(ctx context.Context, ev *models.InboundEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close stops accepting events and waits until the queue is drained. When ctx
// ends first, remaining deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.abandon()
		return nil
	case <-ctx.Done():
		d.abandon()
		return ctx.Err()
	}
}
