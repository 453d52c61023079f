package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultBroadcastInterval = 2 * time.Second
	DefaultCycleTimeout      = 5 * time.Second
)

var ErrBroadcasterStopped = errors.New("broadcaster stopped")

// StateSource produces one live-feed bundle per cycle.
type StateSource interface {
	Evaluate(ctx context.Context, sessionID string) (*domain.StateBundle, error)
}

// Broadcaster runs one periodic task per session that has subscribers. A
// session's task starts with its first subscriber and is torn down, with no
// further store reads, when the last one leaves or the feed is cancelled.
type Broadcaster struct {
	source   StateSource
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	feeds   map[string]*feed
	stopped bool
}

type feed struct {
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	refresh   chan struct{}
	done      chan struct{}

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription delivers state bundles for one session. Only the most recent
// bundle is buffered; a slow reader skips stale ones.
type Subscription struct {
	b       *Broadcaster
	f       *feed
	updates chan domain.StateBundle
	closed  bool // guarded by f.mu
}

func NewBroadcaster(source StateSource, interval, timeout time.Duration, logger *zap.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	if timeout <= 0 {
		timeout = DefaultCycleTimeout
	}
	return &Broadcaster{
		source:   source,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		feeds:    make(map[string]*feed),
	}
}

// Subscribe joins the session's live feed. The first subscriber starts the
// feed; every subscriber gets a bundle promptly rather than waiting a full
// interval.
func (b *Broadcaster) Subscribe(sessionID string) (*Subscription, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, ErrBroadcasterStopped
	}

	sub := &Subscription{b: b, updates: make(chan domain.StateBundle, 1)}

	f, ok := b.feeds[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &feed{
			sessionID: sessionID,
			ctx:       ctx,
			cancel:    cancel,
			refresh:   make(chan struct{}, 1),
			done:      make(chan struct{}),
			subs:      make(map[*Subscription]struct{}),
		}
		b.feeds[sessionID] = f
		feedActiveSessions.Inc()
	}

	sub.f = f
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	feedSubscribers.Inc()

	if !ok {
		b.logger.Info("live feed started", zap.String("session_id", sessionID))
		go b.run(f)
	} else {
		select {
		case f.refresh <- struct{}{}:
		default:
		}
	}
	return sub, nil
}

// Updates is closed when the subscription ends.
func (s *Subscription) Updates() <-chan domain.StateBundle {
	return s.updates
}

// Close leaves the feed. Closing the last subscription stops the session's
// task and returns only once it has exited. Close is idempotent.
func (s *Subscription) Close() {
	b, f := s.b, s.f

	b.mu.Lock()
	f.mu.Lock()
	if s.closed {
		f.mu.Unlock()
		b.mu.Unlock()
		return
	}
	s.closed = true
	close(s.updates)
	delete(f.subs, s)
	feedSubscribers.Dec()
	last := len(f.subs) == 0
	f.mu.Unlock()

	if last && b.feeds[f.sessionID] == f {
		delete(b.feeds, f.sessionID)
		feedActiveSessions.Dec()
	}
	b.mu.Unlock()

	if last {
		b.teardown(f)
	}
}

// Cancel ends every subscription of a session. It reports whether the session
// had an active feed.
func (b *Broadcaster) Cancel(sessionID string) bool {
	b.mu.Lock()
	f, ok := b.feeds[sessionID]
	if ok {
		delete(b.feeds, sessionID)
		feedActiveSessions.Dec()
		f.closeAll()
	}
	b.mu.Unlock()

	if ok {
		b.teardown(f)
	}
	return ok
}

// Stop tears down every feed. Later Subscribe calls fail.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	feeds := make([]*feed, 0, len(b.feeds))
	for id, f := range b.feeds {
		delete(b.feeds, id)
		feedActiveSessions.Dec()
		f.closeAll()
		feeds = append(feeds, f)
	}
	b.mu.Unlock()

	for _, f := range feeds {
		b.teardown(f)
	}
	b.logger.Info("broadcaster stopped")
}

// ActiveSessions is the number of sessions with a running feed.
func (b *Broadcaster) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds)
}

// Subscribers is the number of open subscriptions for a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.Lock()
	f, ok := b.feeds[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (b *Broadcaster) teardown(f *feed) {
	f.cancel()
	<-f.done
	b.logger.Info("live feed stopped", zap.String("session_id", f.sessionID))
}

func (b *Broadcaster) run(f *feed) {
	defer close(f.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.cycle(f)
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
		case <-f.refresh:
		}
		if f.ctx.Err() != nil {
			return
		}

		b.cycle(f)

		// A tick that fired while the cycle ran is folded into it.
		select {
		case <-ticker.C:
			feedCoalescedTicks.Inc()
		default:
		}
	}
}

func (b *Broadcaster) cycle(f *feed) {
	start := time.Now()
	defer func() {
		feedCycleDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			feedCycles.WithLabelValues("panic").Inc()
			b.logger.Error("live feed cycle panicked",
				zap.String("session_id", f.sessionID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	ctx, cancel := context.WithTimeout(f.ctx, b.timeout)
	defer cancel()

	bundle, err := b.source.Evaluate(ctx, f.sessionID)
	if f.ctx.Err() != nil {
		return
	}
	if err != nil {
		feedCycles.WithLabelValues("error").Inc()
		b.logger.Warn("live feed cycle failed",
			zap.String("session_id", f.sessionID),
			zap.Error(err))
		return
	}
	feedCycles.WithLabelValues("ok").Inc()
	f.publish(*bundle)
}

// publish hands the bundle to every subscriber, replacing any bundle the
// subscriber has not read yet.
func (f *feed) publish(bundle domain.StateBundle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.updates <- bundle:
			continue
		default:
		}
		select {
		case <-sub.updates:
		default:
		}
		select {
		case sub.updates <- bundle:
		default:
		}
	}
}

// closeAll ends every subscription. Callers hold the broadcaster lock.
func (f *feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.closed = true
		close(sub.updates)
		delete(f.subs, sub)
		feedSubscribers.Dec()
	}
}
