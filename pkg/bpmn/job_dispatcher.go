package bpmn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	defaultMaxJobsActive = 32
	defaultWorkerPoll    = time.Second
)

// JobHandler processes one activated job. It is expected to complete or fail the job.
type JobHandler func(ctx context.Context, job ActivatedJob)

type WorkerOptions struct {
	// Name is recorded as the worker of activated jobs, a random one is generated when empty
	Name string
	// MaxJobsActive limits the jobs activated per activation round
	MaxJobsActive int
	// PollInterval makes the worker look for jobs even without a notification
	PollInterval time.Duration
}

// JobWorker is a goroutine activating jobs of one type and passing them to its handler
type JobWorker struct {
	dispatcher    *jobDispatcher
	jobType       string
	name          string
	handler       JobHandler
	maxJobsActive int
	pollInterval  time.Duration
	logger        hclog.Logger

	wakeCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type jobDispatcher struct {
	engine  *Engine
	mu      sync.RWMutex
	workers map[string][]*JobWorker
	closed  bool
}

func newJobDispatcher(engine *Engine) *jobDispatcher {
	return &jobDispatcher{
		engine:  engine,
		workers: map[string][]*JobWorker{},
	}
}

// RegisterWorker starts a worker for the given job type. Jobs already waiting are picked up right away.
func (engine *Engine) RegisterWorker(jobType string, handler JobHandler, options WorkerOptions) (*JobWorker, error) {
	if jobType == "" {
		return nil, newValidationErrorf("job type must not be empty")
	}
	if handler == nil {
		return nil, newValidationErrorf("job handler must not be nil")
	}
	if options.MaxJobsActive < 0 {
		return nil, newValidationErrorf("max jobs active must not be negative, got %d", options.MaxJobsActive)
	}
	if options.Name == "" {
		options.Name = fmt.Sprintf("worker-%s", uuid.NewString())
	}
	if options.MaxJobsActive == 0 {
		options.MaxJobsActive = defaultMaxJobsActive
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaultWorkerPoll
	}
	return engine.dispatcher.register(jobType, handler, options)
}

func (d *jobDispatcher) register(jobType string, handler JobHandler, options WorkerOptions) (*JobWorker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrEngineStopped
	}
	ctx, cancel := context.WithCancel(context.Background())
	worker := &JobWorker{
		dispatcher:    d,
		jobType:       jobType,
		name:          options.Name,
		handler:       handler,
		maxJobsActive: options.MaxJobsActive,
		pollInterval:  options.PollInterval,
		logger:        d.engine.logger.Named("job-worker").With("type", jobType, "worker", options.Name),
		wakeCh:        make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	d.workers[jobType] = append(d.workers[jobType], worker)
	worker.wake()
	go worker.run()
	return worker, nil
}

// notify wakes all workers of the job type
func (d *jobDispatcher) notify(jobType string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, worker := range d.workers[jobType] {
		worker.wake()
	}
}

func (d *jobDispatcher) remove(worker *JobWorker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[worker.jobType] = slices.DeleteFunc(d.workers[worker.jobType], func(w *JobWorker) bool {
		return w == worker
	})
	if len(d.workers[worker.jobType]) == 0 {
		delete(d.workers, worker.jobType)
	}
}

// stop closes all workers and waits for their goroutines
func (d *jobDispatcher) stop() {
	d.mu.Lock()
	d.closed = true
	var workers []*JobWorker
	for _, typeWorkers := range d.workers {
		workers = append(workers, typeWorkers...)
	}
	d.workers = map[string][]*JobWorker{}
	d.mu.Unlock()

	for _, worker := range workers {
		worker.cancel()
	}
	for _, worker := range workers {
		<-worker.done
	}
}

func (w *JobWorker) Name() string {
	return w.name
}

func (w *JobWorker) JobType() string {
	return w.jobType
}

// Close stops the worker and waits until its current handler returned.
// It must not be called from the handler of the same worker.
func (w *JobWorker) Close() {
	w.closeOnce.Do(func() {
		w.dispatcher.remove(w)
		w.cancel()
	})
	<-w.done
}

func (w *JobWorker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *JobWorker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wakeCh:
		case <-ticker.C:
		}
		w.activateAndHandle()
	}
}

// activateAndHandle activates jobs until a round returns less than the maximum
func (w *JobWorker) activateAndHandle() {
	for w.ctx.Err() == nil {
		jobs, err := w.dispatcher.engine.ActivateJobs(w.ctx, w.jobType, w.maxJobsActive, w.name)
		if errors.Is(err, ErrEngineStopped) {
			return
		}
		if err != nil {
			w.logger.Error("failed to activate jobs", "err", err)
			return
		}
		for _, job := range jobs {
			if w.ctx.Err() != nil {
				return
			}
			w.handle(job)
		}
		if len(jobs) < w.maxJobsActive {
			return
		}
	}
}

// handle fails the job with one retry less when the handler panics
func (w *JobWorker) handle(job ActivatedJob) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job handler panicked", "jobKey", job.Key, "panic", r)
			retries := max(job.Retries-1, 0)
			if err := w.dispatcher.engine.FailJob(w.ctx, job.Key, retries, fmt.Sprintf("job handler panicked: %v", r)); err != nil {
				w.logger.Error("failed to fail job after panic", "jobKey", job.Key, "err", err)
			}
		}
	}()
	w.handler(w.ctx, job)
}
