package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
)

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	region string
	client *sesv2.Client
}

// NewSESSender creates an SES sender from static credentials.
func NewSESSender(accessKey, secretKey, region string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("ses config: %w", err)
	}
	return &SESSender{region: region, client: sesv2.NewFromConfig(cfg)}, nil
}

// Name returns the routing name.
func (s *SESSender) Name() domain.ProviderName { return domain.ProviderSES }

// Send delivers the message through SES. The idempotency key travels as a
// message tag for webhook correlation; dedup itself is handled by the
// adapter wrapper (SES has no native idempotent send).
func (s *SESSender) Send(ctx context.Context, msg *domain.Message, idemKey string) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("relay_idem_key"), Value: aws.String(idemKey)},
		},
	}
	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, s.classify(err)
	}

	messageID := aws.ToString(result.MessageId)
	logger.Debug("ses accepted", "message_id", messageID)
	return &domain.SendResult{
		ProviderMessageID: messageID,
		Provider:          string(domain.ProviderSES),
		SentAt:            time.Now(),
	}, nil
}

// classify maps SES SDK errors to the typed taxonomy. The SDK surfaces
// modeled error types, so no string matching is needed.
func (s *SESSender) classify(err error) error {
	var badReq *types.BadRequestException
	var notFound *types.NotFoundException
	var acctSuspended *types.AccountSuspendedException
	var msgRejected *types.MessageRejected
	var mailFromNotVerified *types.MailFromDomainNotVerifiedException

	switch {
	case errors.As(err, &badReq),
		errors.As(err, &notFound),
		errors.As(err, &acctSuspended),
		errors.As(err, &msgRejected),
		errors.As(err, &mailFromNotVerified):
		return &PermanentError{Provider: domain.ProviderSES, Err: err}
	}

	var tooMany *types.TooManyRequestsException
	var sendQuota *types.SendingPausedException
	if errors.As(err, &tooMany) || errors.As(err, &sendQuota) {
		// Modeled throttling responses: the email definitely did not send.
		return &TransientError{Provider: domain.ProviderSES, Err: err}
	}

	// Network faults, 5xx, unknown: retryable, outcome unknown.
	return &TransientError{Provider: domain.ProviderSES, Err: err, Ambiguous: true}
}

// HealthCheck verifies the account can send.
func (s *SESSender) HealthCheck(ctx context.Context) error {
	out, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("ses account probe: %w", err)
	}
	if !out.SendingEnabled {
		return errors.New("ses sending disabled on account")
	}
	return nil
}
