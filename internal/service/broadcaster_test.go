package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingSource counts Evaluate calls and tracks overlap.
type countingSource struct {
	mu       sync.Mutex
	calls    map[string]int
	inflight int
	maxInFl  int
	delay    time.Duration
}

func newCountingSource(delay time.Duration) *countingSource {
	return &countingSource{calls: make(map[string]int), delay: delay}
}

func (c *countingSource) Evaluate(ctx context.Context, sessionID string) (*domain.StateBundle, error) {
	c.mu.Lock()
	c.calls[sessionID]++
	n := c.calls[sessionID]
	c.inflight++
	if c.inflight > c.maxInFl {
		c.maxInFl = c.inflight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
	}()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &domain.StateBundle{SessionID: sessionID, EventCount: n, Timestamp: time.Now()}, nil
}

func (c *countingSource) count(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[sessionID]
}

// mockStateSource is a testify mock of StateSource.
type mockStateSource struct {
	mock.Mock
}

func (m *mockStateSource) Evaluate(ctx context.Context, sessionID string) (*domain.StateBundle, error) {
	args := m.Called(ctx, sessionID)
	b, _ := args.Get(0).(*domain.StateBundle)
	return b, args.Error(1)
}

func receive(t *testing.T, sub *Subscription) domain.StateBundle {
	t.Helper()
	select {
	case b, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed unexpectedly")
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a bundle")
	}
	return domain.StateBundle{}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription was not closed")
		}
	}
}

func TestBroadcaster_FirstSubscriberGetsImmediateBundle(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, time.Hour, time.Second, zap.NewNop())
	defer b.Stop()

	sub, err := b.Subscribe("s1")
	require.NoError(t, err)

	bundle := receive(t, sub)
	assert.Equal(t, "s1", bundle.SessionID)
	assert.Equal(t, 1, b.ActiveSessions())
	assert.Equal(t, 1, b.Subscribers("s1"))
}

func TestBroadcaster_LaterSubscriberTriggersRefresh(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, time.Hour, time.Second, zap.NewNop())
	defer b.Stop()

	first, _ := b.Subscribe("s1")
	receive(t, first)

	second, _ := b.Subscribe("s1")
	bundle := receive(t, second)
	assert.Equal(t, 2, bundle.EventCount)
	assert.Equal(t, 2, b.Subscribers("s1"))
}

func TestBroadcaster_PeriodicUpdates(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, 10*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	sub, _ := b.Subscribe("s1")
	last := 0
	for i := 0; i < 3; i++ {
		bundle := receive(t, sub)
		assert.Greater(t, bundle.EventCount, last)
		last = bundle.EventCount
	}
}

func TestBroadcaster_LastUnsubscribeStopsReads(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, 5*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	a, _ := b.Subscribe("s1")
	c, _ := b.Subscribe("s1")
	receive(t, a)

	a.Close()
	assert.Equal(t, 1, b.ActiveSessions())
	receive(t, c)

	c.Close()
	assert.Equal(t, 0, b.ActiveSessions())
	waitClosed(t, c)

	calls := src.count("s1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, src.count("s1"), "store read after teardown")

	// Closing again is a no-op.
	c.Close()
}

func TestBroadcaster_BadCycleKeepsSubscription(t *testing.T) {
	src := new(mockStateSource)
	src.On("Evaluate", mock.Anything, "s1").Return(nil, errors.New("transient read error")).Once()
	src.On("Evaluate", mock.Anything, "s1").Return(&domain.StateBundle{SessionID: "s1", EventCount: 7}, nil)

	b := NewBroadcaster(src, 10*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	sub, _ := b.Subscribe("s1")
	bundle := receive(t, sub)
	assert.Equal(t, 7, bundle.EventCount)
	src.AssertCalled(t, "Evaluate", mock.Anything, "s1")
}

func TestBroadcaster_PanickingCycleKeepsSubscription(t *testing.T) {
	src := new(mockStateSource)
	src.On("Evaluate", mock.Anything, "s1").Return(nil, nil).Once()
	src.On("Evaluate", mock.Anything, "s1").Return(&domain.StateBundle{SessionID: "s1"}, nil)

	b := NewBroadcaster(src, 10*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	// The first cycle dereferences a nil bundle.
	sub, _ := b.Subscribe("s1")
	bundle := receive(t, sub)
	assert.Equal(t, "s1", bundle.SessionID)
}

func TestBroadcaster_SlowCyclesNeverOverlap(t *testing.T) {
	src := newCountingSource(30 * time.Millisecond)
	b := NewBroadcaster(src, 5*time.Millisecond, time.Second, zap.NewNop())

	sub, _ := b.Subscribe("s1")
	receive(t, sub)
	time.Sleep(120 * time.Millisecond)
	sub.Close()
	b.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.maxInFl)
	// Roughly one cycle per 30ms; queued ticks are folded, not replayed.
	assert.LessOrEqual(t, src.calls["s1"], 8)
}

func TestBroadcaster_SlowReaderGetsLatest(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, 5*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	sub, _ := b.Subscribe("s1")
	time.Sleep(60 * time.Millisecond)

	bundle := receive(t, sub)
	assert.Greater(t, bundle.EventCount, 1)
}

func TestBroadcaster_CancelClosesEverySubscriber(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, 5*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	a, _ := b.Subscribe("s1")
	c, _ := b.Subscribe("s1")
	receive(t, a)

	assert.True(t, b.Cancel("s1"))
	waitClosed(t, a)
	waitClosed(t, c)
	assert.Equal(t, 0, b.ActiveSessions())
	assert.False(t, b.Cancel("s1"))

	calls := src.count("s1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.count("s1"))

	a.Close()
	c.Close()
}

func TestBroadcaster_SessionsAreIndependent(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, 5*time.Millisecond, time.Second, zap.NewNop())
	defer b.Stop()

	s1, _ := b.Subscribe("s1")
	s2, _ := b.Subscribe("s2")
	receive(t, s1)
	receive(t, s2)

	s1.Close()
	assert.Equal(t, 1, b.ActiveSessions())

	bundle := receive(t, s2)
	assert.Equal(t, "s2", bundle.SessionID)
}

func TestBroadcaster_ResubscribeAfterTeardown(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, time.Hour, time.Second, zap.NewNop())
	defer b.Stop()

	sub, _ := b.Subscribe("s1")
	receive(t, sub)
	sub.Close()

	sub, err := b.Subscribe("s1")
	require.NoError(t, err)
	receive(t, sub)
	assert.Equal(t, 1, b.ActiveSessions())
}

func TestBroadcaster_Stop(t *testing.T) {
	src := newCountingSource(0)
	b := NewBroadcaster(src, 5*time.Millisecond, time.Second, zap.NewNop())

	sub, _ := b.Subscribe("s1")
	receive(t, sub)

	b.Stop()
	waitClosed(t, sub)
	assert.Equal(t, 0, b.ActiveSessions())

	_, err := b.Subscribe("s1")
	assert.ErrorIs(t, err, ErrBroadcasterStopped)

	_, err = b.Subscribe("")
	assert.ErrorIs(t, err, ErrSessionIDMissing)
}
