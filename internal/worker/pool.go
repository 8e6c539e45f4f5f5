// Package worker runs the send worker pool and the queue recovery loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/pkg/logger"
	"github.com/ignite/relay/internal/provider"
	"github.com/ignite/relay/internal/queue"
)

// Pool pulls jobs from the queue and drives them through the provider
// registry. Each worker goroutine owns at most one claimed job at a time;
// the claim mechanism in the store guarantees exclusivity.
type Pool struct {
	store    queue.Store
	payloads queue.PayloadStore
	registry *provider.Registry
	pauser   *queue.Pauser

	workerID     string
	numWorkers   int
	pollInterval time.Duration
	sendTimeout  time.Duration

	backoffInitial time.Duration
	backoffMax     time.Duration

	// Stats
	totalSent    int64
	totalFailed  int64
	totalRetried int64

	// Control
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// PoolOptions configures a Pool. Zero values fall back to defaults.
type PoolOptions struct {
	NumWorkers     int
	PollInterval   time.Duration
	SendTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// NewPool builds a send worker pool. pauser may be nil when the queue
// cannot be paused (tests).
func NewPool(store queue.Store, payloads queue.PayloadStore, registry *provider.Registry, pauser *queue.Pauser, opts PoolOptions) *Pool {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 5 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Minute
	}
	return &Pool{
		store:          store,
		payloads:       payloads,
		registry:       registry,
		pauser:         pauser,
		workerID:       "pool-" + uuid.New().String()[:8],
		numWorkers:     opts.NumWorkers,
		pollInterval:   opts.PollInterval,
		sendTimeout:    opts.SendTimeout,
		backoffInitial: opts.BackoffInitial,
		backoffMax:     opts.BackoffMax,
	}
}

// Start launches the worker goroutines. Safe to call once; subsequent
// calls while running are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.mu.Unlock()

	logger.Info("send worker pool starting",
		"worker_id", p.workerID,
		"num_workers", p.numWorkers,
		"poll_interval", p.pollInterval.String())

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to settle.
// A worker mid-send finishes its send and records the outcome before
// exiting; Stop never abandons a claimed job silently.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	logger.Info("send worker pool stopped",
		"sent", atomic.LoadInt64(&p.totalSent),
		"failed", atomic.LoadInt64(&p.totalFailed),
		"retried", atomic.LoadInt64(&p.totalRetried))
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Retried int64 `json:"retried"`
	Workers int   `json:"workers"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Sent:    atomic.LoadInt64(&p.totalSent),
		Failed:  atomic.LoadInt64(&p.totalFailed),
		Retried: atomic.LoadInt64(&p.totalRetried),
		Workers: p.numWorkers,
	}
}

func (p *Pool) run(ctx context.Context, n int) {
	defer p.wg.Done()
	workerID := fmt.Sprintf("%s-%d", p.workerID, n)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.pauser != nil && p.pauser.IsPaused(ctx) {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		job, err := p.store.Dequeue(ctx, workerID)
		if err != nil {
			logger.Error("dequeue failed", "worker_id", workerID, "error", err)
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.process(ctx, workerID, job)
	}
}

// process drives a claimed job to its outcome. Cancellation is checked
// at checkpoints before the dispatch call, never mid-send: once the
// payload is handed to a provider the send is not interruptible.
func (p *Pool) process(ctx context.Context, workerID string, job *domain.Job) {
	if p.cancelled(ctx, job) {
		return
	}

	msg, err := p.payloads.Get(ctx, job.PayloadRef)
	if err != nil {
		// Payload loss is not transient. Burn no attempts on it.
		p.fail(ctx, job, fmt.Sprintf("payload %s unavailable: %v", job.PayloadRef, err))
		return
	}
	msg.To = job.Recipients
	msg.TenantID = job.TenantID

	// Last checkpoint before dispatch: a Cancel issued while we were
	// claiming or loading still wins here.
	if p.cancelled(ctx, job) {
		return
	}

	res, sender, sendErr := p.send(ctx, job, msg)
	if sendErr == nil {
		// Acceptance is recorded before anything else so a crash after
		// this point can never cause a duplicate dispatch.
		if err := p.store.RecordAcceptance(ctx, job.ID, string(sender.Name()), res.ProviderMessageID); err != nil {
			logger.Error("record acceptance failed", "job_id", job.ID, "error", err)
		}
		detail := "accepted by " + string(sender.Name())
		// A cancel that raced the dispatch is too late to honor; the
		// outcome is recorded instead.
		if cur, err := p.store.Get(ctx, job.ID); err == nil && cur.CancelRequested {
			detail = "cancel requested but email already dispatched"
		}
		if err := p.store.MarkState(ctx, job.ID, domain.StateCompleted, detail); err != nil {
			logger.Error("mark completed failed", "job_id", job.ID, "error", err)
		}
		atomic.AddInt64(&p.totalSent, 1)
		logger.Info("job dispatched",
			"job_id", job.ID,
			"provider", string(sender.Name()),
			"provider_message_id", res.ProviderMessageID,
			"recipients", len(job.Recipients))
		return
	}

	if errors.Is(sendErr, provider.ErrSendInFlight) {
		// An unresolved claim from a prior dispatch still holds the key. The
		// provider was never reached, so waiting out the claim window costs
		// no attempt; the claim resolves to an acceptance or lapses.
		if err := p.store.Release(ctx, job.ID, provider.PendingClaimTTL, "waiting for pending send to resolve"); err != nil {
			logger.Error("release failed", "job_id", job.ID, "error", err)
			return
		}
		logger.Info("job deferred behind pending send",
			"job_id", job.ID,
			"delay", provider.PendingClaimTTL.String())
		return
	}

	if !provider.IsTransient(sendErr) {
		p.fail(ctx, job, "permanent provider rejection: "+sendErr.Error())
		return
	}

	// Transient failure across all usable providers.
	if job.Attempts >= job.MaxAttempts {
		p.fail(ctx, job, fmt.Sprintf("attempt budget exhausted after %d attempts: %v", job.Attempts, sendErr))
		return
	}
	delay := p.retryDelay(job.Attempts)
	if err := p.store.Requeue(ctx, job.ID, delay, "transient failure: "+sendErr.Error()); err != nil {
		logger.Error("requeue failed", "job_id", job.ID, "error", err)
		return
	}
	atomic.AddInt64(&p.totalRetried, 1)
	logger.Warn("job requeued after transient failure",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"delay", delay.String(),
		"error", sendErr)
}

// send tries the primary provider, then fails over once to the next
// healthy provider on a transient error. A permanent error never triggers
// failover: the message itself is the problem.
func (p *Pool) send(ctx context.Context, job *domain.Job, msg *domain.Message) (*domain.SendResult, provider.Sender, error) {
	primary := p.registry.Primary()
	if primary == nil {
		var err error
		// Unclassified errors count as transient, so an all-unhealthy
		// registry backs off and retries rather than failing the job.
		primary, err = p.registry.NextHealthy()
		if err != nil {
			return nil, nil, err
		}
	}
	res, err := p.dispatch(ctx, primary, msg, job.ID)
	if err == nil {
		return res, primary, nil
	}
	if !provider.IsTransient(err) {
		return nil, primary, err
	}
	if errors.Is(err, provider.ErrSendInFlight) {
		// The claim is keyed by job, not provider: a failover would hit the
		// same claim. Surface it so the job is deferred instead.
		return nil, primary, err
	}
	p.registry.MarkSendFailure(primary.Name(), err)

	alt, altErr := p.registry.NextHealthy(primary.Name())
	if altErr != nil {
		return nil, primary, err
	}
	logger.Warn("failing over",
		"job_id", job.ID,
		"from", string(primary.Name()),
		"to", string(alt.Name()),
		"error", err)
	res, err2 := p.dispatch(ctx, alt, msg, job.ID)
	if err2 == nil {
		return res, alt, nil
	}
	if provider.IsTransient(err2) {
		p.registry.MarkSendFailure(alt.Name(), err2)
	}
	return nil, alt, err2
}

func (p *Pool) dispatch(ctx context.Context, s provider.Sender, msg *domain.Message, idemKey string) (*domain.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	return s.Send(ctx, msg, idemKey)
}

// cancelled re-reads the job and honors a pending cancel request.
func (p *Pool) cancelled(ctx context.Context, job *domain.Job) bool {
	cur, err := p.store.Get(ctx, job.ID)
	if err != nil {
		// Proceed on read failure; acceptance recording still protects
		// against duplicates.
		return false
	}
	job.CancelRequested = cur.CancelRequested
	if !cur.CancelRequested {
		return false
	}
	if err := p.store.MarkState(ctx, job.ID, domain.StateCancelled, "cancelled before dispatch"); err != nil {
		logger.Error("mark cancelled failed", "job_id", job.ID, "error", err)
	}
	logger.Info("job cancelled before dispatch", "job_id", job.ID)
	return true
}

func (p *Pool) fail(ctx context.Context, job *domain.Job, detail string) {
	if err := p.store.MarkState(ctx, job.ID, domain.StateFailed, detail); err != nil &&
		!errors.Is(err, queue.ErrTerminalState) {
		logger.Error("mark failed failed", "job_id", job.ID, "error", err)
	}
	atomic.AddInt64(&p.totalFailed, 1)
	logger.Warn("job failed", "job_id", job.ID, "detail", detail)
}

// retryDelay computes the backoff for the given attempt count,
// exponential with jitter, capped at the configured maximum.
func (p *Pool) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.backoffInitial
	b.MaxInterval = p.backoffMax
	b.MaxElapsedTime = 0
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	if d > p.backoffMax {
		d = p.backoffMax
	}
	return d
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
