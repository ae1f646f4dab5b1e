package bpmn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunningInstancesCacheSerializesOneInstance(t *testing.T) {
	// given
	cache := newRunningInstancesCache()
	var wg sync.WaitGroup
	counter := 0

	// when
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.lockInstance(1)
			defer cache.unlockInstance(1)
			counter++
		}()
	}
	wg.Wait()

	// then
	assert.Equal(t, 100, counter)
	assert.Empty(t, cache.processInstances)
}

func TestRunningInstancesCacheLocksInstancesIndependently(t *testing.T) {
	cache := newRunningInstancesCache()
	cache.lockInstance(1)
	defer cache.unlockInstance(1)

	locked := make(chan struct{})
	go func() {
		cache.lockInstance(2)
		cache.unlockInstance(2)
		close(locked)
	}()

	<-locked
	assert.Len(t, cache.processInstances, 1)
}
