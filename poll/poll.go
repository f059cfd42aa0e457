// Package poll runs the direct-message polling loop. The poller is dormant
// until an explicit wake-up call, and a single failed fetch never terminates
// the loop; only Stop does.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"telegram-twitter-relay/pkg/relay"
)

// State is the poller lifecycle state.
type State int

const (
	Dormant State = iota
	Initializing
	Active
	Errored // transient fetch failure; recovers on the next tick
)

// String returns the lifecycle state label.
func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the operator-facing outcome of a wake-up call.
type Result struct {
	Status  string // "success", "info" or "error"
	Message string
}

// Fetcher is the slice of the Twitter client the poller needs.
type Fetcher interface {
	FetchDirectMessages(ctx context.Context, maxResults int) ([]relay.DirectMessageEvent, error)
	TestConnectivity(ctx context.Context) bool
}

// Forwarder receives fetched messages; it owns dedup filtering and delivery.
type Forwarder interface {
	HandleInbound(ctx context.Context, events []relay.DirectMessageEvent) (int, error)
}

// Poller fetches direct messages on an interval and hands them to the forwarder.
type Poller struct {
	fetcher   Fetcher
	forwarder Forwarder
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	done        chan struct{}
	lastSuccess time.Time
	processed   int
}

// New creates a dormant poller.
func New(fetcher Fetcher, forwarder Forwarder, interval time.Duration, batchSize int, logger *slog.Logger) *Poller {
	return &Poller{
		fetcher:   fetcher,
		forwarder: forwarder,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// WakeUp transitions a dormant poller to active and starts the loop. Waking
// an already-running poller is reported as info, not an error; so is racing
// another caller whose connectivity probe has not settled yet. A failed
// connectivity probe leaves the poller dormant.
func (p *Poller) WakeUp(ctx context.Context) Result {
	p.mu.Lock()
	switch p.state {
	case Initializing:
		p.mu.Unlock()
		return Result{Status: "info", Message: "polling is starting"}
	case Active, Errored:
		p.mu.Unlock()
		return Result{Status: "info", Message: "polling is already running"}
	case Dormant:
	}
	p.state = Initializing
	p.mu.Unlock()

	if !p.fetcher.TestConnectivity(ctx) {
		p.mu.Lock()
		p.state = Dormant
		p.mu.Unlock()
		p.logger.Warn("Poller wake-up aborted, connectivity check failed")
		return Result{Status: "error", Message: "Twitter connectivity check failed"}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.state = Active
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.run(loopCtx, done)

	p.logger.Info("Poller started", "interval", p.interval.String(), "batch_size", p.batchSize)
	return Result{Status: "success", Message: "polling started"}
}

// Stop cancels the loop and waits for it to exit. Stopping a dormant poller
// is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	p.state = Dormant
	p.mu.Unlock()
	p.logger.Info("Poller stopped")
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() relay.PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return relay.PollState{
		Interval:       p.interval,
		Running:        p.state == Active || p.state == Errored,
		LastSuccessAt:  p.lastSuccess,
		ProcessedCount: p.processed,
	}
}

// CheckOnce runs a single fetch-filter-forward cycle. The background loop
// calls it each tick; the scheduler endpoint can call it directly.
func (p *Poller) CheckOnce(ctx context.Context) error {
	events, err := p.fetcher.FetchDirectMessages(ctx, p.batchSize)
	if err != nil {
		return err
	}

	forwarded, err := p.forwarder.HandleInbound(ctx, events)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lastSuccess = time.Now()
	p.processed += forwarded
	p.mu.Unlock()

	p.logger.Info("Poll cycle completed", "fetched", len(events), "forwarded", forwarded)
	return nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.CheckOnce(ctx); err != nil {
				p.setState(Errored)
				p.logger.Warn("Poll cycle failed, will retry on next tick", "error", err)
				continue
			}
			p.setState(Active)
		}
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	// Stop may have already moved the poller to Dormant.
	if p.state == Active || p.state == Errored {
		p.state = s
	}
	p.mu.Unlock()
}
