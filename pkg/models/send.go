package models

// SendRequest is the body of POST /send.
type SendRequest struct {
	To      string      `json:"to"`
	Message string      `json:"message"`
	Media   []MediaItem `json:"media,omitempty"`
}

// MediaItem is either inline base64 (Data, optionally a data: URL) or a URL to fetch.
type MediaItem struct {
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

// SendResponse is the body of every /send reply.
type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}
