package client

import (
	"context"
	"sync"
)

// Future is the result of a command sent asynchronously. It is fulfilled exactly once.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) fulfill(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Join waits for the result
func (f *Future[T]) Join() (T, error) {
	<-f.done
	return f.value, f.err
}

// JoinContext waits for the result until ctx ends. The command keeps running when ctx ends first.
func (f *Future[T]) JoinContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
