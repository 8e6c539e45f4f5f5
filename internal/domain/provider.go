package domain

import "time"

// ProviderName identifies a configured email sending provider.
type ProviderName string

const (
	ProviderSES       ProviderName = "ses"
	ProviderSendGrid  ProviderName = "sendgrid"
	ProviderSparkPost ProviderName = "sparkpost"
)

// ProviderStatus is a point-in-time view of a provider's routing state.
type ProviderStatus struct {
	Name              ProviderName `json:"name"`
	IsPrimary         bool         `json:"is_primary"`
	IsHealthy         bool         `json:"is_healthy"`
	ConsecutiveFails  int          `json:"consecutive_fails"`
	LastHealthCheckAt time.Time    `json:"last_health_check_at"`
	LastError         string       `json:"last_error,omitempty"`
}
