package webhook

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/relay/internal/domain"
)

// GenericIngestor handles the catch-all webhook format: a single flat event
// object, with the provider name taken from the URL path. Signed with
// HMAC-SHA256 over timestamp + "." + body, hex-encoded.
type GenericIngestor struct {
	provider string
	secret   []byte
}

// NewGenericIngestor creates an ingestor for the named provider with its
// configured signing secret.
func NewGenericIngestor(provider, secret string) *GenericIngestor {
	return &GenericIngestor{provider: provider, secret: []byte(secret)}
}

func (i *GenericIngestor) Provider() string { return i.provider }

// Verify checks hex(HMAC-SHA256(secret, timestamp || "." || body)).
func (i *GenericIngestor) Verify(body []byte, header http.Header) error {
	timestamp := header.Get(HeaderTimestamp)
	if timestamp == "" {
		return ErrSignature
	}
	payload := append([]byte(timestamp+"."), body...)
	expected := hex.EncodeToString(hmacSHA256(i.secret, payload))
	return verifyHMAC(expected, header.Get(HeaderSignature))
}

type genericEvent struct {
	EventType string `json:"eventType"`
	MessageID string `json:"messageId"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Parse normalizes the single flat event.
func (i *GenericIngestor) Parse(body []byte) ([]domain.DeliveryEvent, error) {
	var ev genericEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%s payload: %w", i.provider, err)
	}
	eventType, err := mapEventType(ev.EventType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", i.provider, err)
	}
	if ev.MessageID == "" || ev.Email == "" {
		return nil, fmt.Errorf("%s: missing messageId or email", i.provider)
	}
	return []domain.DeliveryEvent{{
		ProviderMessageID: ev.MessageID,
		EmailAddress:      ev.Email,
		EventType:         eventType,
		Reason:            ev.Reason,
		OccurredAt:        time.Unix(ev.Timestamp, 0),
		RawProviderName:   i.provider,
	}}, nil
}
