package webhook

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SendGridIngestor handles SendGrid-style payloads: a flat array of event
// objects, signed with HMAC-SHA256 over timestamp+body, base64-encoded.
type SendGridIngestor struct {
	secret []byte
}

// NewSendGridIngestor creates the SendGrid ingestor with the signing secret.
func NewSendGridIngestor(secret string) *SendGridIngestor {
	return &SendGridIngestor{secret: []byte(secret)}
}

func (i *SendGridIngestor) Provider() string { return "sendgrid" }

// Verify checks base64(HMAC-SHA256(secret, timestamp || body)) against the
// signature header. A tampered body or missing timestamp fails here, before
// any event field is read.
func (i *SendGridIngestor) Verify(body []byte, header http.Header) error {
	timestamp := header.Get(HeaderTimestamp)
	if timestamp == "" {
		return ErrSignature
	}
	payload := append([]byte(timestamp), body...)
	expected := base64.StdEncoding.EncodeToString(hmacSHA256(i.secret, payload))
	return verifyHMAC(expected, header.Get(HeaderSignature))
}

type sendgridEvent struct {
	Email       string `json:"email"`
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason,omitempty"`
}

// Parse normalizes the event array. A batch with one bad event is not
// rejected wholesale: the bad event is dropped and logged, the rest
// proceed.
func (i *SendGridIngestor) Parse(body []byte) ([]domain.DeliveryEvent, error) {
	var raw []sendgridEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("sendgrid payload: %w", err)
	}

	var events []domain.DeliveryEvent
	for idx, ev := range raw {
		eventType, err := mapEventType(ev.Event)
		if err != nil {
			logger.Warn("dropping unparseable sendgrid event", "index", idx, "event", ev.Event)
			continue
		}
		if ev.SGMessageID == "" || ev.Email == "" {
			logger.Warn("dropping sendgrid event missing identity fields", "index", idx)
			continue
		}
		events = append(events, domain.DeliveryEvent{
			ProviderMessageID: ev.SGMessageID,
			EmailAddress:      ev.Email,
			EventType:         eventType,
			Reason:            ev.Reason,
			OccurredAt:        time.Unix(ev.Timestamp, 0),
			RawProviderName:   i.Provider(),
		})
	}
	return events, nil
}
