package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	defaultWorkers        = 2
	defaultQueueSize      = 64
	defaultFailureLogSize = 50
	defaultTaskTimeout    = 5 * time.Second
)

var ErrQueueClosed = errors.New("relay queue closed")

// Task is one side-channel delivery. Run receives a context bounded by
// Timeout, or by the queue's per-task timeout when Timeout is zero.
type Task struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Failure is a failed task kept in the in-memory failure log.
type Failure struct {
	Task  string
	Error string
	At    time.Time
}

// QueueOptions sizes the queue. Zero values take the defaults.
type QueueOptions struct {
	Workers        int
	QueueSize      int
	FailureLogSize int
	TaskTimeout    time.Duration
}

// OptionsFromConfig maps relay and notify settings onto QueueOptions.
func OptionsFromConfig(relay config.RelayConfig, notify config.NotifyConfig) QueueOptions {
	return QueueOptions{
		Workers:        relay.Workers,
		QueueSize:      relay.QueueSize,
		FailureLogSize: relay.FailureLogSize,
		TaskTimeout:    notify.Timeout,
	}
}

// Queue runs tasks on a fixed worker pool fed by a bounded buffer. Enqueue
// never blocks: a full buffer drops the task.
type Queue struct {
	tasks   chan Task
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	failMu     sync.Mutex
	failures   []Failure
	failureCap int
	failNext   int
	failTotal  int
}

func NewQueue(opts QueueOptions, logg *logger.Logger, m *metrics.Metrics) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.FailureLogSize <= 0 {
		opts.FailureLogSize = defaultFailureLogSize
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:      make(chan Task, opts.QueueSize),
		timeout:    opts.TaskTimeout,
		logg:       logg,
		metrics:    m,
		baseCtx:    ctx,
		cancel:     cancel,
		failures:   make([]Failure, 0, opts.FailureLogSize),
		failureCap: opts.FailureLogSize,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules task. It returns false when the queue is full or closed.
// ctx only carries log fields; the task itself runs detached from it.
func (q *Queue) Enqueue(ctx context.Context, task Task) bool {
	if task.Run == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logg.Warn(q.logg.WithField(ctx, "task", task.Name), "relay.task_rejected", ErrQueueClosed)
		q.metrics.IncRelayTask(task.Name, "rejected")
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.logg.Warn(q.logg.WithField(ctx, "task", task.Name), "relay.task_dropped", errors.New("relay queue full"))
		q.metrics.IncRelayTask(task.Name, "dropped")
		q.recordFailure(task.Name, errors.New("dropped: queue full"))
		return false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task Task) {
	timeout := q.timeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	ctx, cancel := context.WithTimeout(q.baseCtx, timeout)
	defer cancel()
	logCtx := q.logg.WithField(ctx, "task", task.Name)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panic: %v", r)
			}
		}()
		return task.Run(ctx)
	}()
	if err != nil {
		q.logg.Warn(logCtx, "relay.task_failed", err)
		q.metrics.IncRelayTask(task.Name, "failed")
		q.recordFailure(task.Name, err)
		return
	}
	q.metrics.IncRelayTask(task.Name, "ok")
}

func (q *Queue) recordFailure(name string, err error) {
	q.failMu.Lock()
	defer q.failMu.Unlock()
	entry := Failure{Task: name, Error: err.Error(), At: time.Now().UTC()}
	if len(q.failures) < q.failureCap {
		q.failures = append(q.failures, entry)
	} else {
		q.failures[q.failNext] = entry
	}
	q.failNext = (q.failNext + 1) % q.failureCap
	q.failTotal++
}

// Failures returns the retained failures, oldest first.
func (q *Queue) Failures() []Failure {
	q.failMu.Lock()
	defer q.failMu.Unlock()
	out := make([]Failure, 0, len(q.failures))
	if len(q.failures) < q.failureCap {
		return append(out, q.failures...)
	}
	out = append(out, q.failures[q.failNext:]...)
	return append(out, q.failures[:q.failNext]...)
}

// FailureCount is the number of failures since start, including evicted ones.
func (q *Queue) FailureCount() int {
	q.failMu.Lock()
	defer q.failMu.Unlock()
	return q.failTotal
}

// Shutdown stops accepting tasks and waits for queued ones to finish. When
// ctx expires first, running tasks are canceled and ctx.Err() is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
