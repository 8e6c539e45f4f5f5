package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SendGridSender sends emails via the SendGrid v3 Mail Send API.
type SendGridSender struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSendGridSender creates a SendGrid sender. baseURL overrides the API
// host for tests; empty means production.
func NewSendGridSender(apiKey, baseURL string) *SendGridSender {
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com/v3"
	}
	return &SendGridSender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the routing name.
func (s *SendGridSender) Name() domain.ProviderName { return domain.ProviderSendGrid }

// Send delivers the message through SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg *domain.Message, idemKey string) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, &PermanentError{Provider: domain.ProviderSendGrid, Err: fmt.Errorf("API key not configured")}
	}

	tos := make([]map[string]string, len(msg.To))
	for i, addr := range msg.To {
		tos[i] = map[string]string{"email": addr}
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{
				"to":          tos,
				"custom_args": map[string]string{"relay_idem_key": idemKey},
			},
		},
		"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
		"subject": msg.Subject,
		"content": []map[string]string{{"type": "text/html", "value": msg.HTMLContent}},
	}
	if msg.TextContent != "" {
		payload["content"] = []map[string]string{
			{"type": "text/plain", "value": msg.TextContent},
			{"type": "text/html", "value": msg.HTMLContent},
		}
	}
	if msg.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, &PermanentError{Provider: domain.ProviderSendGrid, Err: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/mail/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &PermanentError{Provider: domain.ProviderSendGrid, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// The request may or may not have reached SendGrid.
		return nil, &TransientError{Provider: domain.ProviderSendGrid, Err: err, Ambiguous: true}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(domain.ProviderSendGrid, resp.StatusCode, string(body))
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	logger.Debug("sendgrid accepted", "message_id", messageID)
	return &domain.SendResult{
		ProviderMessageID: messageID,
		Provider:          string(domain.ProviderSendGrid),
		SentAt:            time.Now(),
	}, nil
}

// HealthCheck probes the API key's scopes endpoint.
func (s *SendGridSender) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/scopes", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid probe: status %d", resp.StatusCode)
	}
	return nil
}
