package bpmn

import (
	"slices"
	"sync"
)

// instanceOutcome is the terminal result of a process instance handed to awaiters
type instanceOutcome struct {
	processInstanceKey int64
	variables          map[string]any
	err                error
}

type resultAwaiters struct {
	mu      sync.Mutex
	waiting map[int64][]chan instanceOutcome
}

func newResultAwaiters() *resultAwaiters {
	return &resultAwaiters{
		waiting: map[int64][]chan instanceOutcome{},
	}
}

// register must be called before the instance can finish, i.e. while holding its lock
func (a *resultAwaiters) register(processInstanceKey int64) <-chan instanceOutcome {
	ch := make(chan instanceOutcome, 1)
	a.mu.Lock()
	a.waiting[processInstanceKey] = append(a.waiting[processInstanceKey], ch)
	a.mu.Unlock()
	return ch
}

// deregister drops an awaiter nobody reads anymore, an outcome already sent stays in its buffer
func (a *resultAwaiters) deregister(processInstanceKey int64, awaiter <-chan instanceOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	waiting := slices.DeleteFunc(a.waiting[processInstanceKey], func(ch chan instanceOutcome) bool {
		return ch == awaiter
	})
	if len(waiting) == 0 {
		delete(a.waiting, processInstanceKey)
		return
	}
	a.waiting[processInstanceKey] = waiting
}

// pending counts the registered awaiters
func (a *resultAwaiters) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, channels := range a.waiting {
		n += len(channels)
	}
	return n
}

func (a *resultAwaiters) resolve(outcome instanceOutcome) {
	a.mu.Lock()
	waiting := a.waiting[outcome.processInstanceKey]
	delete(a.waiting, outcome.processInstanceKey)
	a.mu.Unlock()
	for _, ch := range waiting {
		ch <- outcome
	}
}

func (a *resultAwaiters) failAll(err error) {
	a.mu.Lock()
	waiting := a.waiting
	a.waiting = map[int64][]chan instanceOutcome{}
	a.mu.Unlock()
	for key, channels := range waiting {
		for _, ch := range channels {
			ch <- instanceOutcome{processInstanceKey: key, err: err}
		}
	}
}
