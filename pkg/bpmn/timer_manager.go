package bpmn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenbpm-embedded/pkg/clock"
)

// fireTimersFunc must trigger every timer due at now
type fireTimersFunc func(ctx context.Context, now time.Time) error

// timerManager fires due timers whenever a controlled clock advances,
// and polls periodically for the system clock
type timerManager struct {
	pollTimerDelay time.Duration
	// mu makes sure only one goroutine fires timers at a time
	mu             sync.Mutex
	ctx            context.Context
	ctxCancelFunc  context.CancelFunc
	wakeCh         chan struct{}
	logger         hclog.Logger
	fireTimersFunc fireTimersFunc
	removeListener func()
	wg             sync.WaitGroup
	running        bool
}

func newTimerManager(fireTimersFunc fireTimersFunc, pollTimerDelay time.Duration) *timerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &timerManager{
		ctx:            ctx,
		pollTimerDelay: pollTimerDelay,
		ctxCancelFunc:  cancel,
		wakeCh:         make(chan struct{}, 1),
		fireTimersFunc: fireTimersFunc,
		logger:         hclog.Default().Named("timer-manager"),
	}
}

func (tm *timerManager) start(c clock.Clock) {
	tm.running = true
	if advancer, ok := c.(clock.Advancer); ok {
		// the clock calls back synchronously, timers fired before IncreaseTime returns
		tm.removeListener = advancer.OnAdvance(tm.fire)
	}
	tm.wg.Add(1)
	go tm.run(c)
}

func (tm *timerManager) run(c clock.Clock) {
	defer tm.wg.Done()
	pollTicker := time.NewTicker(tm.pollTimerDelay)
	defer pollTicker.Stop()
	for {
		select {
		case <-tm.ctx.Done():
			return
		case <-pollTicker.C:
			tm.fire(c.Now())
		case <-tm.wakeCh:
			tm.fire(c.Now())
		}
	}
}

// wake lets the manager check for due timers, e.g. after a timer with a zero duration was created
func (tm *timerManager) wake() {
	select {
	case tm.wakeCh <- struct{}{}:
	default:
	}
}

func (tm *timerManager) fire(now time.Time) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ctx.Err() != nil {
		return
	}
	err := tm.fireTimersFunc(tm.ctx, now)
	if err != nil && !errors.Is(err, ErrEngineStopped) {
		tm.logger.Error("Failed to fire due timers", "now", now, "err", err)
	}
}

func (tm *timerManager) stop() {
	tm.ctxCancelFunc()
	if tm.removeListener != nil {
		tm.removeListener()
	}
	if tm.running {
		tm.wg.Wait()
	}
}
