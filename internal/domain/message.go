package domain

import "time"

// Message is the fully-resolved email ready for a provider sender.
// By the time a message reaches this struct, all template substitution
// and header generation is complete; the delivery core never renders.
type Message struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	To          []string          `json:"to"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a provider sender after an accepted send.
type SendResult struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Provider          string    `json:"provider"`
	SentAt            time.Time `json:"sent_at"`
}

// EngagementStats holds per-tenant delivery lifecycle counters.
type EngagementStats struct {
	Delivered  int64 `json:"delivered"`
	Bounced    int64 `json:"bounced"`
	Complained int64 `json:"complained"`
	Opened     int64 `json:"opened"`
	Clicked    int64 `json:"clicked"`
	Failed     int64 `json:"failed"`
}
