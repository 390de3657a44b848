package commission

import (
	"context"
	"sync"
	"time"

	"github.com/TriMatrix-Network/matrix_layer/internal/app/storage"
	"github.com/TriMatrix-Network/matrix_layer/internal/app/system"
	"github.com/TriMatrix-Network/matrix_layer/pkg/logger"
)

// RetryPoller periodically re-emits failed commissions. Credits reuse the
// original idempotency key, so a retry that raced an earlier success cannot
// double-pay.
type RetryPoller struct {
	store    storage.CommissionStore
	service  *Service
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*RetryPoller)(nil)

// NewRetryPoller constructs a poller over the given commission store.
func NewRetryPoller(store storage.CommissionStore, service *Service, interval time.Duration, log *logger.Logger) *RetryPoller {
	if log == nil {
		log = logger.NewDefault("commission-retry")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryPoller{
		store:       store,
		service:     service,
		interval:    interval,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (p *RetryPoller) Name() string { return "commission-retry" }

func (p *RetryPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("commission retry poller started")
	return nil
}

func (p *RetryPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *RetryPoller) tick(ctx context.Context) {
	failed, err := p.store.ListFailedCommissions(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list failed commissions failed")
		return
	}

	now := time.Now()
	for _, c := range failed {
		if !p.shouldAttempt(c.ID, now) {
			continue
		}
		if _, err := p.service.Retry(ctx, c); err != nil {
			p.log.WithError(err).Warnf("retry commission %s failed", c.ID)
			p.scheduleNext(c.ID)
			continue
		}
		p.log.Infof("commission %s settled on retry", c.ID)
		p.clearSchedule(c.ID)
	}
}

func (p *RetryPoller) shouldAttempt(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[id]
	return !ok || now.After(next)
}

func (p *RetryPoller) scheduleNext(id string) {
	p.mu.Lock()
	p.nextAttempt[id] = time.Now().Add(p.interval)
	p.mu.Unlock()
}

func (p *RetryPoller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}
