// Package inbound filters raw transport messages and relays the ones worth
// forwarding to the CRM webhook.
package inbound

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rs/zerolog"

	applog "whatsapp-bridge/internal/log"
	"whatsapp-bridge/internal/media"
	"whatsapp-bridge/internal/metrics"
	"whatsapp-bridge/internal/phone"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/pkg/models"
)

// Drop reasons, also used as metric outcomes.
const (
	OutcomeRelayed   = "relayed"
	OutcomeNotNotify = "not_notify"
	OutcomeBroadcast = "broadcast"
	OutcomeFromMe    = "from_me"
	OutcomeGroup     = "group"
	OutcomeEmpty     = "empty"
	OutcomeNoSender  = "no_sender"
	OutcomeDropped   = "dispatch_dropped"
)

type Resolver interface {
	Resolve(ctx context.Context, messageID string, ref *session.MediaRef) (*media.Resolved, error)
}

type Dispatcher interface {
	Dispatch(ev *models.InboundEvent) bool
}

type Processor struct {
	resolver   Resolver
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewProcessor(resolver Resolver, dispatcher Dispatcher, logger zerolog.Logger) *Processor {
	return &Processor{resolver: resolver, dispatcher: dispatcher, logger: logger}
}

// Run relays messages in arrival order until msgs is closed or ctx ends.
func (p *Processor) Run(ctx context.Context, msgs <-chan *session.RawMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.Handle(ctx, msg)
		}
	}
}

// Handle processes one message and hands the result to the dispatcher
// without waiting for delivery. It returns the metric outcome.
func (p *Processor) Handle(ctx context.Context, msg *session.RawMessage) string {
	ev, outcome := p.Process(ctx, msg)
	if ev != nil && !p.dispatcher.Dispatch(ev) {
		outcome = OutcomeDropped
	}
	metrics.IncInbound(outcome)
	if ev != nil {
		p.logger.Info().
			Str("message_id", ev.MessageID).
			Str("from_phone", ev.FromPhone).
			Str("preview", applog.Preview(ev.Content, 50)).
			Int("attachments", len(ev.Attachments)).
			Str("outcome", outcome).
			Msg("inbound message")
	} else {
		p.logger.Debug().Str("message_id", msg.ID).Str("outcome", outcome).Msg("inbound message skipped")
	}
	return outcome
}

// Process turns msg into at most one event. A nil event comes with the
// reason it was skipped.
func (p *Processor) Process(ctx context.Context, msg *session.RawMessage) (*models.InboundEvent, string) {
	switch {
	case !msg.Notify:
		return nil, OutcomeNotNotify
	case msg.Broadcast:
		return nil, OutcomeBroadcast
	case msg.FromMe:
		return nil, OutcomeFromMe
	case msg.IsGroup || phone.IsGroupID(msg.Chat):
		return nil, OutcomeGroup
	}

	content := ExtractText(msg)

	var attachments []models.Attachment
	for _, ref := range msg.Media {
		res, err := p.resolver.Resolve(ctx, msg.ID, ref)
		if err != nil {
			p.logger.Warn().Err(err).Str("message_id", msg.ID).Str("kind", string(ref.Kind)).Msg("attachment dropped")
			continue
		}
		attachments = append(attachments, models.Attachment{
			Data: base64.StdEncoding.EncodeToString(res.Data),
			Type: res.MimeType,
			Name: res.FileName,
		})
	}

	if content == "" {
		content = firstCaption(msg.Media)
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, OutcomeEmpty
	}

	from := phone.Normalize(senderID(msg))
	if from == "" {
		return nil, OutcomeNoSender
	}

	ev := &models.InboundEvent{
		Channel:     models.ChannelWhatsApp,
		FromPhone:   from,
		Content:     content,
		MessageID:   msg.ID,
		Attachments: attachments,
	}
	if name := strings.TrimSpace(msg.PushName); name != "" {
		ev.FromName = &name
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp.Unix()
		ev.Timestamp = &ts
	}
	return ev, OutcomeRelayed
}

// ExtractText prefers the plain text field and falls back to the extended one.
func ExtractText(msg *session.RawMessage) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.ExtendedText
}

func firstCaption(refs []*session.MediaRef) string {
	for _, ref := range refs {
		if ref.Caption != "" {
			return ref.Caption
		}
	}
	return ""
}

func senderID(msg *session.RawMessage) string {
	if msg.RealSender != "" {
		return msg.RealSender
	}
	if msg.Sender != "" {
		return msg.Sender
	}
	return msg.Chat
}
