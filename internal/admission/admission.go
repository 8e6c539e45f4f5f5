// Package admission validates and admits send requests before any job is
// created. Admission is synchronous; dispatch is asynchronous — a request
// either becomes a queued job (or batch) or is rejected whole. There is no
// partial admission.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/queue"
	"github.com/ignite/relay/internal/suppression"
)

// chunkSize caps recipients per child job for bulk and campaign sends.
// One provider call covers one chunk, so the chunk is also the unit of
// retry and of delivery-event correlation.
const chunkSize = 100

// Limits holds the configured admission ceilings.
type Limits struct {
	BulkRecipientCeiling  int
	DailyEmailLimit       int
	MonthlyEmailLimit     int
	DistinctRecipientsCap int
	MaxAttempts           int
}

// Request is a send submission prior to admission.
type Request struct {
	TenantID    string            `json:"tenant_id"`
	Kind        domain.JobKind    `json:"kind"`
	Recipients  []string          `json:"recipients"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	ScheduledAt string            `json:"scheduled_at,omitempty"`
}

// Controller performs admission checks and creates jobs.
type Controller struct {
	store       queue.Store
	payloads    queue.PayloadStore
	quotas      QuotaStore
	suppression *suppression.Service
	limits      Limits
}

// NewController wires the admission controller.
func NewController(store queue.Store, payloads queue.PayloadStore, quotas QuotaStore, supp *suppression.Service, limits Limits) *Controller {
	return &Controller{
		store:       store,
		payloads:    payloads,
		quotas:      quotas,
		suppression: supp,
		limits:      limits,
	}
}

// Submit admits a single send and returns the created job id.
func (c *Controller) Submit(ctx context.Context, req Request) (string, error) {
	req.Kind = domain.KindSingle
	if err := c.validate(&req); err != nil {
		return "", err
	}
	if len(req.Recipients) != 1 {
		return "", &ValidationError{Field: "recipients", Reason: "single send requires exactly one recipient"}
	}

	recipient := req.Recipients[0]
	suppressed, err := c.suppression.IsSuppressed(ctx, req.TenantID, recipient)
	if err != nil {
		return "", fmt.Errorf("suppression check: %w", err)
	}
	if suppressed {
		return "", &ValidationError{Field: "recipients", Reason: "recipient is on the suppression list"}
	}

	if err := c.checkQuota(ctx, req.TenantID, 1); err != nil {
		return "", err
	}

	job, err := c.buildJob(ctx, &req, req.Recipients)
	if err != nil {
		return "", err
	}
	if err := c.store.Enqueue(ctx, job); err != nil {
		return "", err
	}
	if err := c.quotas.Record(ctx, req.TenantID, req.Recipients); err != nil {
		logger.Warn("quota record failed", "tenant_id", req.TenantID, "error", err)
	}

	logger.Info("job admitted", "job_id", job.ID, "tenant_id", req.TenantID, "kind", job.Kind)
	return job.ID, nil
}

// SubmitBatch admits a bulk or campaign send and returns the batch id.
// Suppressed recipients are filtered out rather than failing the batch;
// an over-ceiling recipient list fails validation whole — never a partial job.
func (c *Controller) SubmitBatch(ctx context.Context, req Request) (string, error) {
	if req.Kind != domain.KindBulk && req.Kind != domain.KindCampaign {
		return "", &ValidationError{Field: "kind", Reason: "must be bulk or campaign"}
	}
	if err := c.validate(&req); err != nil {
		return "", err
	}
	if len(req.Recipients) > c.limits.BulkRecipientCeiling {
		return "", &ValidationError{
			Field:  "recipients",
			Reason: fmt.Sprintf("%d recipients exceeds ceiling of %d", len(req.Recipients), c.limits.BulkRecipientCeiling),
		}
	}

	var sendable []string
	for _, r := range req.Recipients {
		suppressed, err := c.suppression.IsSuppressed(ctx, req.TenantID, r)
		if err != nil {
			return "", fmt.Errorf("suppression check: %w", err)
		}
		if suppressed {
			logger.Debug("recipient filtered by suppression list", "recipient", r)
			continue
		}
		sendable = append(sendable, r)
	}
	if len(sendable) == 0 {
		return "", &ValidationError{Field: "recipients", Reason: "all recipients are suppressed"}
	}

	if err := c.checkQuota(ctx, req.TenantID, len(sendable)); err != nil {
		return "", err
	}

	batch := &domain.Batch{
		ID:       uuid.New().String(),
		TenantID: req.TenantID,
		Kind:     req.Kind,
	}

	var jobs []*domain.Job
	for start := 0; start < len(sendable); start += chunkSize {
		end := start + chunkSize
		if end > len(sendable) {
			end = len(sendable)
		}
		job, err := c.buildJob(ctx, &req, sendable[start:end])
		if err != nil {
			return "", err
		}
		jobs = append(jobs, job)
	}

	if err := c.store.EnqueueBatch(ctx, batch, jobs); err != nil {
		return "", err
	}
	if err := c.quotas.Record(ctx, req.TenantID, sendable); err != nil {
		logger.Warn("quota record failed", "tenant_id", req.TenantID, "error", err)
	}

	logger.Info("batch admitted", "batch_id", batch.ID, "tenant_id", req.TenantID,
		"kind", req.Kind, "jobs", len(jobs), "recipients", len(sendable))
	return batch.ID, nil
}

func (c *Controller) validate(req *Request) error {
	if req.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if len(req.Recipients) == 0 {
		return &ValidationError{Field: "recipients", Reason: "at least one recipient required"}
	}
	for _, r := range req.Recipients {
		if !strings.Contains(r, "@") {
			return &ValidationError{Field: "recipients", Reason: fmt.Sprintf("invalid address %q", logger.RedactEmail(r))}
		}
	}
	if req.FromEmail == "" {
		return &ValidationError{Field: "from_email", Reason: "required"}
	}
	if req.Subject == "" {
		return &ValidationError{Field: "subject", Reason: "required"}
	}
	if req.HTMLContent == "" && req.TextContent == "" {
		return &ValidationError{Field: "content", Reason: "html_content or text_content required"}
	}
	return nil
}

func (c *Controller) checkQuota(ctx context.Context, tenantID string, count int) error {
	usage, err := c.quotas.Usage(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("quota lookup: %w", err)
	}
	switch {
	case c.limits.DailyEmailLimit > 0 && usage.Daily+count > c.limits.DailyEmailLimit:
		return &QuotaExceededError{TenantID: tenantID, Limit: "daily"}
	case c.limits.MonthlyEmailLimit > 0 && usage.Monthly+count > c.limits.MonthlyEmailLimit:
		return &QuotaExceededError{TenantID: tenantID, Limit: "monthly"}
	case c.limits.DistinctRecipientsCap > 0 && usage.DistinctRecipients+count > c.limits.DistinctRecipientsCap:
		return &QuotaExceededError{TenantID: tenantID, Limit: "distinct recipients"}
	}
	return nil
}

// buildJob stores the payload and creates a queued job over the given
// recipient slice.
func (c *Controller) buildJob(ctx context.Context, req *Request, recipients []string) (*domain.Job, error) {
	jobID := uuid.New().String()
	ref := "payload-" + jobID
	msg := &domain.Message{
		ID:          jobID,
		TenantID:    req.TenantID,
		FromName:    req.FromName,
		FromEmail:   req.FromEmail,
		ReplyTo:     req.ReplyTo,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		TextContent: req.TextContent,
		Headers:     req.Headers,
	}
	if err := c.payloads.Put(ctx, ref, msg); err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}

	job := &domain.Job{
		ID:          jobID,
		TenantID:    req.TenantID,
		Kind:        req.Kind,
		Recipients:  recipients,
		PayloadRef:  ref,
		Priority:    req.Priority,
		State:       domain.StateQueued,
		MaxAttempts: c.limits.MaxAttempts,
	}
	if req.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			return nil, &ValidationError{Field: "scheduled_at", Reason: "must be RFC3339"}
		}
		job.ScheduledAt = &at
	}
	return job, nil
}
