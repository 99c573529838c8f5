// Package media turns inbound protocol media references into bytes with a
// MIME type and a filename.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"whatsapp-bridge/internal/metrics"
	"whatsapp-bridge/internal/session"
)

// Default MIME types used when the message does not declare one.
var defaultMIME = map[session.MediaKind]string{
	session.MediaImage:    "image/jpeg",
	session.MediaVideo:    "video/mp4",
	session.MediaAudio:    "audio/ogg",
	session.MediaDocument: "application/pdf",
}

// WhatsApp voice notes are Ogg/Opus; mimetype files audio/ogg under .oga.
var preferredExt = map[string]string{
	"audio/ogg": ".ogg",
}

// Downloader fetches the bytes behind a media reference.
type Downloader interface {
	Download(ctx context.Context, ref *session.MediaRef) ([]byte, error)
}

// DownloadError reports a failed attachment download.
type DownloadError struct {
	MessageID string
	Kind      session.MediaKind
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s of message %s: %v", e.Kind, e.MessageID, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

type Resolved struct {
	Data     []byte
	MimeType string
	FileName string
}

type Resolver struct {
	dl      Downloader
	timeout time.Duration
}

// NewResolver bounds every download by timeout; zero means no extra bound.
func NewResolver(dl Downloader, timeout time.Duration) *Resolver {
	return &Resolver{dl: dl, timeout: timeout}
}

func (r *Resolver) Resolve(ctx context.Context, messageID string, ref *session.MediaRef) (*Resolved, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	data, err := r.dl.Download(ctx, ref)
	if err == nil && len(data) == 0 {
		err = errors.New("empty payload")
	}
	if err != nil {
		metrics.MediaDownloadsTotal.WithLabelValues(string(ref.Kind), "error").Inc()
		return nil, &DownloadError{MessageID: messageID, Kind: ref.Kind, Err: err}
	}
	metrics.MediaDownloadsTotal.WithLabelValues(string(ref.Kind), "ok").Inc()

	mime := MimeType(ref)
	return &Resolved{
		Data:     data,
		MimeType: mime,
		FileName: FileName(messageID, mime, ref.FileName),
	}, nil
}

// MimeType is the declared type, or the default for the media kind.
func MimeType(ref *session.MediaRef) string {
	if m := strings.TrimSpace(ref.MimeType); m != "" {
		return m
	}
	if m, ok := defaultMIME[ref.Kind]; ok {
		return m
	}
	return "application/octet-stream"
}

// FileName is the declared name, or the message id with an extension
// guessed from mime.
func FileName(messageID, mime, declared string) string {
	if name := strings.TrimSpace(declared); name != "" {
		return name
	}
	return messageID + Extension(mime)
}

// Extension returns the usual extension for mime, including the dot.
func Extension(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	if ext, ok := preferredExt[base]; ok {
		return ext
	}
	if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
