package bpmn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pbinitiative/zenbpm-embedded/pkg/clock"
	"github.com/stretchr/testify/assert"
)

type timeManagerTester struct {
	mu    sync.Mutex
	calls []time.Time
}

func (t *timeManagerTester) fireTimers(ctx context.Context, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, now)
	return nil
}

func (t *timeManagerTester) called() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Time(nil), t.calls...)
}

func TestTimerManagerFiresSynchronouslyOnClockAdvance(t *testing.T) {
	// given
	tester := &timeManagerTester{}
	c := clock.NewControlled(testStart)
	tm := newTimerManager(tester.fireTimers, time.Hour)
	tm.start(c)
	defer tm.stop()

	// when
	now, err := c.IncreaseTime(time.Minute)

	// then
	assert.NoError(t, err)
	assert.Contains(t, tester.called(), now)
}

func TestTimerManagerFiresOnWake(t *testing.T) {
	tester := &timeManagerTester{}
	c := clock.NewControlled(testStart)
	tm := newTimerManager(tester.fireTimers, time.Hour)
	tm.start(c)
	defer tm.stop()

	tm.wake()

	assert.Eventually(t, func() bool {
		return len(tester.called()) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTimerManagerPollsTheSystemClock(t *testing.T) {
	tester := &timeManagerTester{}
	tm := newTimerManager(tester.fireTimers, 10*time.Millisecond)
	tm.start(clock.System{})
	defer tm.stop()

	assert.Eventually(t, func() bool {
		return len(tester.called()) >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStoppedTimerManagerIgnoresClockAdvance(t *testing.T) {
	// given
	tester := &timeManagerTester{}
	c := clock.NewControlled(testStart)
	tm := newTimerManager(tester.fireTimers, time.Hour)
	tm.start(c)

	// when
	tm.stop()
	_, err := c.IncreaseTime(time.Minute)

	// then
	assert.NoError(t, err)
	assert.Empty(t, tester.called())
}
