// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package clock provides the time source of the engine.
// The System clock follows wall time, the Controlled clock only moves when a caller advances it.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrTimeMovedBackwards = errors.New("clock can not be moved backwards")

// Clock is the only time source used by the engine.
type Clock interface {
	Now() time.Time
}

// Listener is invoked synchronously every time a Controlled clock is advanced.
type Listener func(now time.Time)

// Advancer is implemented by clocks that notify listeners about time jumps.
type Advancer interface {
	Clock
	// OnAdvance registers a listener and returns a function removing it.
	OnAdvance(l Listener) (remove func())
}

type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

type listenerEntry struct {
	id       int
	listener Listener
}

// Controlled is a virtual clock. Time only moves through IncreaseTime and SetTime,
// both return after every registered listener has processed the new time.
type Controlled struct {
	// advanceMu serializes advancement including the listener calls
	advanceMu sync.Mutex

	mu        sync.RWMutex
	now       time.Time
	listeners []listenerEntry
	nextId    int
}

var _ Advancer = &Controlled{}

func NewControlled(start time.Time) *Controlled {
	if start.IsZero() {
		start = time.Now()
	}
	return &Controlled{now: start}
}

func (c *Controlled) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// IncreaseTime moves the clock forward by d and returns the new time.
func (c *Controlled) IncreaseTime(d time.Duration) (time.Time, error) {
	if d < 0 {
		return c.Now(), fmt.Errorf("%w: negative duration %s", ErrTimeMovedBackwards, d)
	}
	c.advanceMu.Lock()
	defer c.advanceMu.Unlock()

	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	c.notify(now)
	return now, nil
}

// SetTime moves the clock to t. t must not be before the current time.
func (c *Controlled) SetTime(t time.Time) error {
	c.advanceMu.Lock()
	defer c.advanceMu.Unlock()

	c.mu.Lock()
	if t.Before(c.now) {
		current := c.now
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is before %s", ErrTimeMovedBackwards, t, current)
	}
	c.now = t
	c.mu.Unlock()

	c.notify(t)
	return nil
}

func (c *Controlled) OnAdvance(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextId++
	id := c.nextId
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: l})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Controlled) notify(now time.Time) {
	c.mu.RLock()
	listeners := make([]listenerEntry, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()
	for _, e := range listeners {
		e.listener(now)
	}
}
