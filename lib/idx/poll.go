package idx

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 4 * time.Second

	// slowDownIncrement is added to the interval every time the server
	// signals slow_down.
	slowDownIncrement = 5 * time.Second
)

// Server error codes with poll-specific meaning.
const (
	codeAuthorizationPending = "authorization_pending"
	codeSlowDown             = "slow_down"
)

// errPollStopped marks a poll result that lost the race against Stop; the
// result is discarded without a callback.
var errPollStopped = errors.New("poll loop stopped")

// errFlowBusy marks a poll result that arrived while a submission was mid
// network call; the loop holds the result back and introspects again later.
var errFlowBusy = errors.New("submission in flight")

// PollResult receives the terminal result of a poll loop. It is invoked at
// most once, after the result has been applied to the flow's state, and
// never after Stop.
type PollResult func(outcome *StepOutcome, err error)

// Poller runs one repeated-introspection loop. At most one poller is active
// per flow: starting a new one stops the previous loop first.
type Poller struct {
	flow  *Flow
	token string

	mu       sync.Mutex
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartPolling begins introspecting the capability's continuation at its
// interval until a terminal response arrives, an unrelated error occurs, or
// the poller is stopped. The terminal outcome is applied to the flow before
// onResult is called; a stopped poller calls nothing.
func (f *Flow) StartPolling(ctx context.Context, capability *Pollable, onResult PollResult) (*Poller, error) {
	if capability == nil {
		return nil, errors.New("nil pollable capability")
	}
	interval := capability.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	f.mu.Lock()
	if f.current == nil {
		f.mu.Unlock()
		return nil, ErrFlowNotStarted
	}
	f.stopPollerLocked()
	p := &Poller{
		flow:     f,
		interval: interval,
		token:    capability.ContinuationToken,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	f.poller = p
	f.mu.Unlock()

	go p.run(ctx, onResult)
	return p, nil
}

// Stop cancels the loop silently: no callback fires, and the result of an
// introspection already in flight is discarded. Stop is idempotent and
// returns once the loop has exited.
func (p *Poller) Stop() {
	p.signalStop()
	<-p.done
}

// signalStop makes the stop observable without waiting for the loop to exit.
// Taking the flow lock serializes the signal with result application: once
// signalStop returns, a result not yet applied will be discarded.
func (p *Poller) signalStop() {
	p.flow.mu.Lock()
	p.stopOnce.Do(func() { close(p.stop) })
	p.flow.mu.Unlock()
}

// currentInterval is the delay before the next introspection.
func (p *Poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// stretchInterval adds the fixed slow_down increment and returns the new
// interval.
func (p *Poller) stretchInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval += slowDownIncrement
	return p.interval
}

func (p *Poller) run(ctx context.Context, onResult PollResult) {
	defer close(p.done)

	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		resp, err := p.flow.transport.Introspect(ctx, p.token)

		// A stop that raced the request wins: the result is discarded.
		select {
		case <-p.stop:
			return
		default:
		}

		if err != nil {
			var serverErr *ServerError
			if errors.As(err, &serverErr) {
				switch serverErr.Code {
				case codeSlowDown:
					log.Debug("poll slow_down, interval now ", p.stretchInterval())
					timer.Reset(p.currentInterval())
					continue
				case codeAuthorizationPending:
					timer.Reset(p.currentInterval())
					continue
				}
			}
			p.flow.clearPoller(p)
			onResult(nil, err)
			return
		}

		if pendingResponse(resp) {
			timer.Reset(p.currentInterval())
			continue
		}

		outcome, err := p.flow.applyPollResult(ctx, p, resp)
		switch err {
		case errPollStopped:
			return
		case errFlowBusy:
			timer.Reset(p.currentInterval())
			continue
		}
		onResult(outcome, err)
		return
	}
}

// pendingResponse reports whether the response still describes the same
// pending transaction: not successful, no messages, and a poll continuation
// still offered.
func pendingResponse(resp *Response) bool {
	if resp.IsLoginSuccessful() || len(resp.Messages) > 0 {
		return false
	}
	for _, rem := range resp.Remediations {
		if rem.Type == RemediationChallengePoll || rem.Type == RemediationEnrollPoll {
			return true
		}
		if rem.Capabilities.Pollable() != nil {
			return true
		}
	}
	return false
}

// applyPollResult installs a terminal poll response as the current state.
// The application is serialized with submissions through the flow's lock; a
// submission that is mid network call keeps the result from being applied
// over it.
func (f *Flow) applyPollResult(ctx context.Context, p *Poller, resp *Response) (*StepOutcome, error) {
	f.mu.Lock()
	select {
	case <-p.stop:
		f.mu.Unlock()
		return nil, errPollStopped
	default:
	}
	if f.inFlight {
		f.mu.Unlock()
		return nil, errFlowBusy
	}
	if f.poller == p {
		f.poller = nil
	}
	f.current = resp
	f.state = stateAwaitingRemediation
	successful := resp.IsLoginSuccessful()
	f.mu.Unlock()

	if successful {
		token, err := f.Exchange(ctx)
		if err != nil {
			return nil, err
		}
		return &StepOutcome{Kind: OutcomeSuccess, Token: token}, nil
	}
	return &StepOutcome{Kind: OutcomeNeedsInput, Response: resp}, nil
}

func (f *Flow) clearPoller(p *Poller) {
	f.mu.Lock()
	if f.poller == p {
		f.poller = nil
	}
	f.mu.Unlock()
}

// stopPollerLocked stops the active poller, if any. Callers hold f.mu.
func (f *Flow) stopPollerLocked() {
	if f.poller == nil {
		return
	}
	p := f.poller
	f.poller = nil
	// Release the lock while waiting for the loop to wind down; the loop's
	// terminal path may itself need the lock.
	f.mu.Unlock()
	p.Stop()
	f.mu.Lock()
}
