package models

// ChannelWhatsApp is the only channel this bridge reports.
const ChannelWhatsApp = "whatsapp"

// InboundEvent is the JSON body posted to the CRM for every relayed message.
type InboundEvent struct {
	Channel     string       `json:"channel"`
	FromPhone   string       `json:"from_phone"`
	FromName    *string      `json:"from_name"`
	Content     string       `json:"content"`
	MessageID   string       `json:"message_id"`
	Timestamp   *int64       `json:"timestamp"` // unix seconds
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment carries one downloaded media file, base64 encoded.
type Attachment struct {
	Data string `json:"data"`
	Type string `json:"type"`
	Name string `json:"name"`
}
