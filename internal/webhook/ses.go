package webhook

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SESIngestor handles SES-style notifications: an SNS envelope whose
// Message field carries a JSON-encoded event. One envelope can fan out to
// multiple recipients via mail.destination.
type SESIngestor struct {
	secret []byte
}

// NewSESIngestor creates the SES ingestor with the shared webhook secret.
func NewSESIngestor(secret string) *SESIngestor {
	return &SESIngestor{secret: []byte(secret)}
}

func (i *SESIngestor) Provider() string { return "ses" }

// Verify checks HMAC-SHA256 over the raw body, hex-encoded. The deployment
// fronts the SNS topic with a subscriber that stamps this header.
func (i *SESIngestor) Verify(body []byte, header http.Header) error {
	expected := hex.EncodeToString(hmacSHA256(i.secret, body))
	return verifyHMAC(expected, header.Get(HeaderSignature))
}

// envelope is the SNS notification wrapper.
type envelope struct {
	Type         string `json:"Type"`
	MessageId    string `json:"MessageId"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

// sesNotification is the inner event message.
type sesNotification struct {
	EventType string `json:"eventType"`
	Mail      struct {
		MessageID   string   `json:"messageId"`
		Destination []string `json:"destination"`
	} `json:"mail"`
	Delivery  *timestampBlock `json:"delivery,omitempty"`
	Bounce    *timestampBlock `json:"bounce,omitempty"`
	Complaint *timestampBlock `json:"complaint,omitempty"`
	Open      *timestampBlock `json:"open,omitempty"`
	Click     *timestampBlock `json:"click,omitempty"`
	Failure   *struct {
		timestampBlock
		ErrorMessage string `json:"errorMessage"`
	} `json:"failure,omitempty"`
}

type timestampBlock struct {
	Timestamp time.Time `json:"timestamp"`
}

// IsSubscriptionConfirmation reports whether the body is an SNS handshake
// rather than an event. The transport layer confirms those out of band.
func (i *SESIngestor) IsSubscriptionConfirmation(body []byte) (string, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	if env.Type == "SubscriptionConfirmation" && env.SubscribeURL != "" {
		return env.SubscribeURL, true
	}
	return "", false
}

// Parse unwraps the envelope and fans the event out across the destination
// list. The envelope yields one DeliveryEvent per recipient.
func (i *SESIngestor) Parse(body []byte) ([]domain.DeliveryEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("ses envelope: %w", err)
	}

	var note sesNotification
	if err := json.Unmarshal([]byte(env.Message), &note); err != nil {
		return nil, fmt.Errorf("ses inner message: %w", err)
	}

	eventType, err := mapEventType(note.EventType)
	if err != nil {
		return nil, fmt.Errorf("ses: %w", err)
	}

	occurredAt, reason := i.eventDetail(&note)
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	if note.Mail.MessageID == "" {
		return nil, fmt.Errorf("ses: missing mail.messageId")
	}

	var events []domain.DeliveryEvent
	for _, addr := range note.Mail.Destination {
		if addr == "" {
			logger.Warn("ses event with empty destination entry", "message_id", note.Mail.MessageID)
			continue
		}
		events = append(events, domain.DeliveryEvent{
			ProviderMessageID: note.Mail.MessageID,
			EmailAddress:      addr,
			EventType:         eventType,
			Reason:            reason,
			OccurredAt:        occurredAt,
			RawProviderName:   i.Provider(),
		})
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("ses: no destinations in event")
	}
	return events, nil
}

// eventDetail pulls the type-specific timestamp block and failure reason.
func (i *SESIngestor) eventDetail(note *sesNotification) (time.Time, string) {
	switch {
	case note.Delivery != nil:
		return note.Delivery.Timestamp, ""
	case note.Bounce != nil:
		return note.Bounce.Timestamp, "provider reported bounce"
	case note.Complaint != nil:
		return note.Complaint.Timestamp, "provider reported complaint"
	case note.Open != nil:
		return note.Open.Timestamp, ""
	case note.Click != nil:
		return note.Click.Timestamp, ""
	case note.Failure != nil:
		return note.Failure.Timestamp, note.Failure.ErrorMessage
	}
	return time.Time{}, ""
}
