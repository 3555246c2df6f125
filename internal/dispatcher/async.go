package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/dialer/internal/observability"
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// FailureFunc is called for every command that did not reach the telephony layer
type FailureFunc func(cmd types.DialCommand, err error)

// AsyncConfig sizes the queue and worker pool
type AsyncConfig struct {
	QueueSize      int
	Workers        int
	CallsPerSecond float64 // 0 disables the limit
	Timeout        time.Duration
}

// Async queues dial commands and originates them from a worker pool, so the pacing
// tick never waits on the network
type Async struct {
	inner     Dispatcher
	queue     chan types.DialCommand
	workers   int
	limiter   *rate.Limiter
	timeout   time.Duration
	onFailure FailureFunc

	closed bool
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewAsync wraps inner with a bounded queue
func NewAsync(inner Dispatcher, cfg AsyncConfig, logger zerolog.Logger) *Async {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.CallsPerSecond > 0 {
		burst := int(cfg.CallsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}

	return &Async{
		inner:     inner,
		queue:     make(chan types.DialCommand, cfg.QueueSize),
		workers:   cfg.Workers,
		limiter:   limiter,
		timeout:   cfg.Timeout,
		onFailure: func(types.DialCommand, error) {},
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// OnFailure registers the callback for commands that failed or were dropped
func (a *Async) OnFailure(fn FailureFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFailure = fn
}

// Submit enqueues a command without blocking. ErrQueueFull means the caller keeps ownership.
func (a *Async) Submit(cmd types.DialCommand) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of queued commands
func (a *Async) QueueDepth() int {
	return len(a.queue)
}

// Start runs the worker pool until ctx is cancelled. Commands still queued at
// shutdown are reported as failed with ErrClosed.
func (a *Async) Start(ctx context.Context) {
	a.logger.Info().Int("workers", a.workers).Int("queue_size", cap(a.queue)).Msg("dispatcher started")

	var wg sync.WaitGroup
	for i := 0; i < a.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.work(ctx)
		}()
	}
	wg.Wait()

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	dropped := 0
	for {
		select {
		case cmd := <-a.queue:
			a.fail(cmd, ErrClosed)
			dropped++
		default:
			a.logger.Info().Int("dropped", dropped).Msg("dispatcher stopped")
			return
		}
	}
}

func (a *Async) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.queue:
			if err := a.limiter.Wait(ctx); err != nil {
				a.fail(cmd, ErrClosed)
				return
			}
			a.originate(ctx, cmd)
		}
	}
}

func (a *Async) originate(ctx context.Context, cmd types.DialCommand) {
	ctx, span := observability.StartSpan(ctx, "dispatch.originate",
		attribute.String("campaign.id", cmd.CampaignID),
		attribute.String("attempt.id", cmd.AttemptID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.inner.Originate(ctx, cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "originate failed")
		a.logger.Warn().Err(err).
			Str("attempt_id", cmd.AttemptID).
			Str("campaign_id", cmd.CampaignID).
			Msg("originate failed")
		a.fail(cmd, err)
		return
	}

	a.logger.Debug().
		Str("attempt_id", cmd.AttemptID).
		Str("campaign_id", cmd.CampaignID).
		Msg("originated")
}

func (a *Async) fail(cmd types.DialCommand, err error) {
	a.mu.RLock()
	fn := a.onFailure
	a.mu.RUnlock()
	fn(cmd, err)
}
