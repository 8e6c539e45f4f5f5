// Package webhook verifies and normalizes delivery-event callbacks from
// heterogeneous providers into the canonical DeliveryEvent model.
//
// Verification always runs before any payload field is parsed: a request
// that fails its signature check is rejected at the transport boundary and
// never reaches the event processor.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"

	"github.com/ignite/relay/internal/domain"
)

// Signature and timestamp headers shared by the HMAC schemes.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// ErrSignature rejects a request whose signature does not verify. Mapped to
// 401 at the transport layer; no state is mutated on this path.
var ErrSignature = errors.New("webhook signature verification failed")

// Ingestor is the per-provider verify-then-parse contract.
type Ingestor interface {
	// Provider returns the raw provider name stamped on parsed events.
	Provider() string

	// Verify checks the request signature over the raw body. Must be called
	// before Parse; Parse output from an unverified body is untrusted.
	Verify(body []byte, header http.Header) error

	// Parse normalizes the payload. Implementations apply partial-failure
	// semantics where the format allows: an unparseable event in a verified
	// batch is skipped, not fatal.
	Parse(body []byte) ([]domain.DeliveryEvent, error)
}

// hmacSHA256 computes the HMAC-SHA256 digest of msg under key.
func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// verifyHMAC compares an expected digest encoding against the supplied
// signature in constant time.
func verifyHMAC(expected, supplied string) error {
	if supplied == "" || !hmac.Equal([]byte(expected), []byte(supplied)) {
		return ErrSignature
	}
	return nil
}

// mapEventType converts a provider's event vocabulary to the canonical one.
// The alias table covers the spellings the three formats emit.
func mapEventType(raw string) (domain.EventType, error) {
	switch raw {
	case "delivered", "delivery", "Delivery":
		return domain.EventDelivered, nil
	case "bounced", "bounce", "Bounce":
		return domain.EventBounced, nil
	case "complained", "complaint", "Complaint", "spamreport", "spam_complaint":
		return domain.EventComplained, nil
	case "opened", "open", "Open":
		return domain.EventOpened, nil
	case "clicked", "click", "Click":
		return domain.EventClicked, nil
	case "failed", "dropped", "Reject", "Rendering Failure":
		return domain.EventFailed, nil
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}
