// Package outbound validates and executes send requests from the CRM.
package outbound

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/vincent-petithory/dataurl"

	applog "whatsapp-bridge/internal/log"
	"whatsapp-bridge/internal/media"
	"whatsapp-bridge/internal/metrics"
	"whatsapp-bridge/internal/phone"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/pkg/models"
)

const defaultMaxMediaBytes = 64 << 20

// ValidationError means the request was rejected before any send.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Session is the slice of the connector the sender needs.
type Session interface {
	State() session.State
	Send(ctx context.Context, to string, msg *session.Outbound) (*session.SendResult, error)
}

type Options struct {
	FetchTimeout  time.Duration
	MaxMediaBytes int64
	Client        *http.Client
}

type Sender struct {
	session  Session
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   zerolog.Logger
}

func NewSender(s Session, opts Options, logger zerolog.Logger) *Sender {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.MaxMediaBytes <= 0 {
		opts.MaxMediaBytes = defaultMaxMediaBytes
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Sender{
		session:  s,
		client:   opts.Client,
		timeout:  opts.FetchTimeout,
		maxBytes: opts.MaxMediaBytes,
		logger:   logger,
	}
}

// Validate checks the request shape without touching the session.
func Validate(req *models.SendRequest) error {
	if strings.TrimSpace(req.To) == "" {
		return &ValidationError{Msg: "missing 'to'"}
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Media) == 0 {
		return &ValidationError{Msg: "either 'message' or 'media' is required"}
	}
	if phone.DirectJID(req.To) == "" {
		return &ValidationError{Msg: fmt.Sprintf("'to' has no phone number: %q", req.To)}
	}
	return nil
}

// Send delivers the request. Attachments go first, the text rides as the
// caption of the first delivered attachment that can carry one, and is sent
// on its own otherwise. The result is that of the first successful send.
func (s *Sender) Send(ctx context.Context, req *models.SendRequest) (*session.SendResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if s.session.State() != session.StateConnected {
		return nil, session.ErrNotConnected
	}

	to := phone.DirectJID(req.To)
	text := req.Message
	hasText := strings.TrimSpace(text) != ""

	var first *session.SendResult
	var lastErr error
	captioned := false

	for i, item := range req.Media {
		m, err := s.materialize(ctx, item)
		if err != nil {
			lastErr = err
			metrics.IncSend("media", "error")
			s.logger.Warn().Err(err).Int("index", i).Str("to", to).Msg("attachment skipped")
			continue
		}
		if !captioned && hasText && m.Kind != session.MediaAudio {
			m.Caption = text
		}

		res, err := s.session.Send(ctx, to, &session.Outbound{Media: m})
		if errors.Is(err, session.ErrNotConnected) {
			if first != nil {
				s.logger.Warn().Err(err).Int("index", i).Str("to", to).Msg("session dropped after partial delivery")
				return first, nil
			}
			return nil, err
		}
		if err != nil {
			lastErr = err
			metrics.IncSend(string(m.Kind), "error")
			s.logger.Error().Err(err).Int("index", i).Str("to", to).Msg("attachment send failed")
			continue
		}
		metrics.IncSend(string(m.Kind), "ok")
		if m.Caption != "" {
			captioned = true
		}
		if first == nil {
			first = res
		}
	}

	if hasText && !captioned {
		res, err := s.session.Send(ctx, to, &session.Outbound{Text: text})
		switch {
		case errors.Is(err, session.ErrNotConnected) && first == nil:
			return nil, err
		case err != nil:
			lastErr = err
			metrics.IncSend("text", "error")
		default:
			metrics.IncSend("text", "ok")
			if first == nil {
				first = res
			}
		}
	}

	if first == nil {
		var sendErr *session.SendFailedError
		if errors.As(lastErr, &sendErr) {
			return nil, sendErr
		}
		if lastErr == nil {
			lastErr = errors.New("nothing was sent")
		}
		return nil, &session.SendFailedError{To: to, Err: lastErr}
	}

	s.logger.Info().
		Str("to", to).
		Str("message_id", first.ID).
		Str("preview", applog.Preview(text, 50)).
		Int("media", len(req.Media)).
		Msg("message sent")
	return first, nil
}

func (s *Sender) materialize(ctx context.Context, item models.MediaItem) (*session.OutboundMedia, error) {
	var data []byte
	mime := strings.TrimSpace(item.Type)

	switch {
	case item.Data != "":
		decoded, declared, err := DecodeData(item.Data)
		if err != nil {
			return nil, err
		}
		data = decoded
		if mime == "" {
			mime = declared
		}
	case item.URL != "":
		fetched, served, err := s.fetch(ctx, item.URL)
		if err != nil {
			return nil, err
		}
		data = fetched
		if mime == "" && served != "application/octet-stream" {
			mime = served
		}
	default:
		return nil, errors.New("attachment has neither data nor url")
	}

	if len(data) == 0 {
		return nil, errors.New("attachment is empty")
	}
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}

	kind := Classify(mime)
	name := strings.TrimSpace(item.Name)
	if name == "" && kind == session.MediaDocument {
		name = "document" + media.Extension(mime)
	}
	return &session.OutboundMedia{Kind: kind, Data: data, MimeType: mime, FileName: name}, nil
}

func (s *Sender) fetch(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, "", fmt.Errorf("fetch %s: larger than %d bytes", url, s.maxBytes)
	}
	served, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, strings.TrimSpace(served), nil
}

// DecodeData accepts plain base64 or a data: URL and returns the bytes and
// the MIME type declared by the URL, if any. Data URLs follow RFC 2397, so
// percent-encoded payloads without ;base64 decode too.
func DecodeData(s string) ([]byte, string, error) {
	payload := strings.TrimSpace(s)
	if strings.HasPrefix(payload, "data:") {
		du, err := dataurl.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		// An omitted media type defaults to text/plain; leave it to detection instead.
		var declared string
		if !strings.HasPrefix(payload, "data:;") && !strings.HasPrefix(payload, "data:,") {
			declared = du.MediaType.ContentType()
		}
		return du.Data, declared, nil
	}

	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode attachment: %w", err)
	}
	return data, "", nil
}

// Classify maps a MIME type onto the protocol media kind.
func Classify(mime string) session.MediaKind {
	m := strings.ToLower(mime)
	switch {
	case strings.HasPrefix(m, "image/"):
		return session.MediaImage
	case strings.HasPrefix(m, "video/"):
		return session.MediaVideo
	case strings.HasPrefix(m, "audio/"):
		return session.MediaAudio
	default:
		return session.MediaDocument
	}
}
