package content

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tupa/internal/logging"
	"github.com/tupa/internal/retry"
)

// Syncer is a collection the poller can refresh
type Syncer interface {
	Name() string
	Sync(ctx context.Context) error
}

// Poller re-fetches collections on an interval in place of server push.
// After consecutive failed rounds it waits longer, following the backoff config.
type Poller struct {
	syncers []Syncer
	backoff retry.BackoffConfig
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewPoller creates a poller over the given collections
func NewPoller(backoff retry.BackoffConfig, logger zerolog.Logger, syncers ...Syncer) *Poller {
	timeout := backoff.BaseDelay
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Poller{
		syncers: syncers,
		backoff: backoff,
		timeout: timeout,
		logger:  logging.Component(logger, "poller"),
	}
}

// Start begins polling in the background. It is a no-op if already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(ctx, p.stopCh, p.doneCh)
}

// Running reports whether the background loop is active
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Stop halts polling and waits for an in-flight round to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (p *Poller) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		// a loop ended by its context leaves the poller restartable
		p.mu.Lock()
		if p.doneCh == doneCh {
			p.started = false
		}
		p.mu.Unlock()
		close(doneCh)
	}()

	failures := 0
	timer := time.NewTimer(retry.Delay(p.backoff, 0))
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if p.runOnce(ctx) {
				failures = 0
			} else {
				failures++
			}
			wait := retry.Delay(p.backoff, failures)
			if failures > 0 {
				p.logger.Debug().Int("failures", failures).Dur("wait", wait).Msg("Backing off")
			}
			timer.Reset(wait)
		}
	}
}

// runOnce refreshes every collection and reports whether all succeeded
func (p *Poller) runOnce(ctx context.Context) bool {
	ok := true
	for _, s := range p.syncers {
		rctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := s.Sync(rctx)
		cancel()
		if err == nil {
			continue
		}
		ok = false
		if retry.IsTransient(err) {
			p.logger.Debug().Err(err).Str("collection", s.Name()).Msg("Poll failed")
		} else {
			p.logger.Warn().Err(err).Str("collection", s.Name()).Msg("Poll failed")
		}
	}
	return ok
}
