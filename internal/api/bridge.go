package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"whatsapp-bridge/internal/outbound"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/pkg/models"
)

// SessionState is the read side of the connector plus the re-pair request.
type SessionState interface {
	Snapshot() session.Snapshot
	RequestPairing() error
}

type MessageSender interface {
	Send(ctx context.Context, req *models.SendRequest) (*session.SendResult, error)
}

type BridgeHandler struct {
	Session SessionState
	Sender  MessageSender
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewBridgeHandler(s SessionState, sender MessageSender, logger zerolog.Logger) *BridgeHandler {
	return &BridgeHandler{Session: s, Sender: sender, Logger: logger, Now: time.Now}
}

// StatusView is the JSON shape of /status, also pushed over /ws.
type StatusView struct {
	Connected bool          `json:"connected"`
	HasQR     bool          `json:"hasQR"`
	State     session.State `json:"state"`
	LoggedOut bool          `json:"loggedOut"`
	Since     string        `json:"since"`
	Timestamp string        `json:"timestamp"`
}

func NewStatusView(s session.Snapshot, now time.Time) StatusView {
	return StatusView{
		Connected: s.Connected(),
		HasQR:     s.ActivePairing(now) != nil,
		State:     s.State,
		LoggedOut: s.LoggedOut,
		Since:     s.Since.UTC().Format(time.RFC3339),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

func (h *BridgeHandler) Health(c *gin.Context) {
	now := h.Now()
	snap := h.Session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"whatsapp": gin.H{
			"ready":           snap.Connected(),
			"hasQR":           snap.ActivePairing(now) != nil,
			"connectionState": snap.State,
		},
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

func (h *BridgeHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, NewStatusView(h.Session.Snapshot(), h.Now()))
}

func (h *BridgeHandler) QR(c *gin.Context) {
	now := h.Now()
	snap := h.Session.Snapshot()
	if snap.Connected() {
		c.JSON(http.StatusOK, gin.H{"status": "connected", "message": "WhatsApp is already connected"})
		return
	}
	if p := snap.ActivePairing(now); p != nil {
		c.JSON(http.StatusOK, gin.H{"status": "pending", "qr": p.Code, "expiresIn": expiresIn(p, now)})
		return
	}
	msg := "QR code not yet available, please wait..."
	if snap.LoggedOut {
		msg = "Logged out. POST /pair to link the device again."
	}
	c.JSON(http.StatusOK, gin.H{"status": "initializing", "message": msg, "loggedOut": snap.LoggedOut})
}

func expiresIn(p *session.PairingArtifact, now time.Time) string {
	return fmt.Sprintf("%ds", int(math.Ceil(p.ExpiresIn(now).Seconds())))
}

var qrPage = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>WhatsApp Bridge</title>
{{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}">{{end}}
<style>
body { text-align:center; padding:50px; font-family:Arial, sans-serif; }
img { width:400px; height:400px; border:2px solid #ccc; border-radius:10px; }
.ok { color:green; }
.warn { color:#ff6b6b; }
.hint { color:#666; }
</style>
</head>
<body>
{{- if eq .Mode "connected"}}
<h1 class="ok">Connected</h1>
<p>WhatsApp is connected and ready to receive messages.</p>
{{- else if eq .Mode "pending"}}
<h1>Scan QR Code with WhatsApp</h1>
<img src="{{.Image}}" alt="pairing QR code">
<p><strong class="warn">Expires in {{.ExpiresIn}}</strong></p>
<p class="hint">Open WhatsApp &rarr; Settings &rarr; Linked Devices &rarr; Link a Device</p>
{{- else if eq .Mode "logged_out"}}
<h1 class="warn">Logged out</h1>
<p>The device was unlinked from the phone.</p>
<form method="post" action="/pair"><button type="submit">Link again</button></form>
{{- else}}
<h1>Initializing...</h1>
<p>QR code will appear here shortly.</p>
{{- end}}
</body>
</html>
`))

type qrPageData struct {
	Mode      string
	Refresh   int
	Image     template.URL
	ExpiresIn string
}

func (h *BridgeHandler) QRDisplay(c *gin.Context) {
	now := h.Now()
	snap := h.Session.Snapshot()
	data := qrPageData{Mode: "initializing", Refresh: 3}

	switch p := snap.ActivePairing(now); {
	case snap.Connected():
		data = qrPageData{Mode: "connected"}
	case p != nil:
		img, err := QRDataURL(p.Code)
		if err != nil {
			h.Logger.Error().Err(err).Msg("failed to render pairing QR")
			break
		}
		data = qrPageData{Mode: "pending", Refresh: 5, Image: template.URL(img), ExpiresIn: expiresIn(p, now)}
	case snap.LoggedOut:
		data = qrPageData{Mode: "logged_out", Refresh: 10}
	}

	var buf bytes.Buffer
	if err := qrPage.Execute(&buf, data); err != nil {
		c.String(http.StatusInternalServerError, "render error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// QRDataURL renders code as a PNG data URL.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (h *BridgeHandler) Send(c *gin.Context) {
	var req models.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.SendResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	res, err := h.Sender.Send(c.Request.Context(), &req)
	if err != nil {
		var vErr *outbound.ValidationError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, models.SendResponse{Error: vErr.Error()})
		case errors.Is(err, session.ErrNotConnected):
			c.JSON(http.StatusServiceUnavailable, models.SendResponse{Error: "WhatsApp is not connected"})
		default:
			h.Logger.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("send failed")
			c.JSON(http.StatusInternalServerError, models.SendResponse{Error: err.Error()})
		}
		return
	}

	resp := models.SendResponse{Success: true, MessageID: res.ID}
	if !res.Timestamp.IsZero() {
		resp.Timestamp = res.Timestamp.Unix()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BridgeHandler) Pair(c *gin.Context) {
	if err := h.Session.RequestPairing(); err != nil {
		if errors.Is(err, session.ErrAlreadyConnected) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "status": "pairing requested"})
}
