package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SparkPostSender sends emails via the SparkPost Transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewSparkPostSender creates a SparkPost sender. baseURL overrides the API
// host for tests; empty means production.
func NewSparkPostSender(apiKey, baseURL string) *SparkPostSender {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the routing name.
func (s *SparkPostSender) Name() domain.ProviderName { return domain.ProviderSparkPost }

// Send delivers the message through a SparkPost transmission.
func (s *SparkPostSender) Send(ctx context.Context, msg *domain.Message, idemKey string) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, &PermanentError{Provider: domain.ProviderSparkPost, Err: fmt.Errorf("API key not configured")}
	}

	recipients := make([]map[string]interface{}, len(msg.To))
	for i, addr := range msg.To {
		recipients[i] = map[string]interface{}{
			"address": map[string]string{"email": addr},
		}
	}

	transmission := map[string]interface{}{
		"recipients": recipients,
		"content": map[string]interface{}{
			"from": map[string]string{
				"email": msg.FromEmail,
				"name":  msg.FromName,
			},
			"subject": msg.Subject,
			"html":    msg.HTMLContent,
			"text":    msg.TextContent,
		},
		"metadata": map[string]interface{}{
			"relay_idem_key": idemKey,
		},
		"options": map[string]interface{}{
			"open_tracking":  false,
			"click_tracking": false,
		},
	}
	if msg.ReplyTo != "" {
		content := transmission["content"].(map[string]interface{})
		content["reply_to"] = msg.ReplyTo
	}

	body, err := json.Marshal(transmission)
	if err != nil {
		return nil, &PermanentError{Provider: domain.ProviderSparkPost, Err: fmt.Errorf("marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, &PermanentError{Provider: domain.ProviderSparkPost, Err: err}
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransientError{Provider: domain.ProviderSparkPost, Err: err, Ambiguous: true}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(domain.ProviderSparkPost, resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.Results.ID == "" {
		// Accepted but unparseable id: the email likely went out, so the
		// dedup claim must hold until the retry resolves it.
		return nil, &TransientError{Provider: domain.ProviderSparkPost, Err: fmt.Errorf("unparseable transmission response"), Ambiguous: true}
	}

	logger.Debug("sparkpost accepted", "transmission_id", result.Results.ID)
	return &domain.SendResult{
		ProviderMessageID: result.Results.ID,
		Provider:          string(domain.ProviderSparkPost),
		SentAt:            time.Now(),
	}, nil
}

// HealthCheck probes the account endpoint.
func (s *SparkPostSender) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/account", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sparkpost probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sparkpost probe: status %d", resp.StatusCode)
	}
	return nil
}
