// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"sync"
)

type runningInstance struct {
	mu   sync.Mutex
	refs int
}

// RunningInstancesCache serializes all commands of one process instance,
// different instances run concurrently.
type RunningInstancesCache struct {
	processInstances map[int64]*runningInstance
	mu               sync.Mutex
}

func newRunningInstancesCache() *RunningInstancesCache {
	return &RunningInstancesCache{
		processInstances: map[int64]*runningInstance{},
	}
}

func (c *RunningInstancesCache) lockInstance(instanceKey int64) {
	c.mu.Lock()
	ins, ok := c.processInstances[instanceKey]
	if !ok {
		ins = &runningInstance{}
		c.processInstances[instanceKey] = ins
	}
	ins.refs++
	c.mu.Unlock()

	ins.mu.Lock()
}

func (c *RunningInstancesCache) unlockInstance(instanceKey int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ins, ok := c.processInstances[instanceKey]
	if !ok {
		return
	}
	ins.mu.Unlock()
	ins.refs--
	if ins.refs == 0 {
		delete(c.processInstances, instanceKey)
	}
}
