package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/metrics"
	"github.com/sirupsen/logrus"
)

var (
	// ErrStopped is returned once Stop has been called
	ErrStopped = errors.New("dispatcher stopped")

	// ErrDuplicateJob is returned when a job with the same unique key is queued or running
	ErrDuplicateJob = errors.New("job already queued")
)

// failedTimeout bounds a job's Failed handler
const failedTimeout = 30 * time.Second

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job fails without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Locker grants uniqueness locks; cache.Locker implements it
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Options sizes the dispatcher
type Options struct {
	WorkersPerQueue int
	BufferSize      int
}

// Stats counts job attempts since start
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Succeeded  int64 `json:"succeeded"`
	Retried    int64 `json:"retried"`
	Failed     int64 `json:"failed"`
	Abandoned  int64 `json:"abandoned"`
}

type envelope struct {
	job     Job
	attempt int
	release func()
}

// Dispatcher runs jobs on per-queue worker goroutines
type Dispatcher struct {
	locker Locker
	opts   Options

	mu     sync.RWMutex
	queues map[string]chan *envelope
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	workers sync.WaitGroup
	timers  sync.WaitGroup

	dispatched, succeeded, retried, failed, abandoned atomic.Int64
}

// NewDispatcher creates a dispatcher. A nil locker disables uniqueness checks.
func NewDispatcher(locker Locker, opts Options) *Dispatcher {
	if opts.WorkersPerQueue <= 0 {
		opts.WorkersPerQueue = 2
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		locker: locker,
		opts:   opts,
		queues: make(map[string]chan *envelope),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch queues job for immediate execution
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	if d.ctx.Err() != nil {
		return ErrStopped
	}

	env := &envelope{job: job, release: func() {}}
	if key := job.UniqueKey(); key != "" && d.locker != nil {
		release, err := d.locker.Acquire(ctx, "job:"+job.Name()+":"+key, job.Policy().lockTTL())
		if errors.Is(err, cache.ErrLockHeld) {
			return fmt.Errorf("%w: %s %s", ErrDuplicateJob, job.Name(), key)
		}
		if err != nil {
			return fmt.Errorf("failed to acquire lock for %s: %w", job.Name(), err)
		}
		env.release = release
	}

	if err := d.ensureQueue(job.Queue()); err != nil {
		env.release()
		return err
	}
	if err := d.enqueue(ctx, env); err != nil {
		env.release()
		return err
	}

	d.dispatched.Add(1)
	logrus.WithFields(logrus.Fields{
		"job":   job.Name(),
		"queue": job.Queue(),
	}).Debug("Job dispatched")
	return nil
}

// DispatchAfter queues job once delay has elapsed. The job is dropped if the
// dispatcher stops first.
func (d *Dispatcher) DispatchAfter(ctx context.Context, job Job, delay time.Duration) error {
	if delay <= 0 {
		return d.Dispatch(ctx, job)
	}
	if d.ctx.Err() != nil {
		return ErrStopped
	}

	d.timers.Add(1)
	go func() {
		defer d.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if err := d.Dispatch(d.ctx, job); err != nil {
				logrus.WithError(err).WithField("job", job.Name()).Warn("Delayed job not dispatched")
			}
		case <-d.ctx.Done():
			logrus.WithField("job", job.Name()).Info("Dropping delayed job on shutdown")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"job":   job.Name(),
		"queue": job.Queue(),
		"delay": delay.String(),
	}).Info("Job scheduled")
	return nil
}

// Stop rejects new jobs, drops pending delays and retries, and waits for
// queued jobs to finish or ctx to expire
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.queues {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.timers.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Job dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher did not drain: %w", ctx.Err())
	}
}

// Stats returns attempt counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Succeeded:  d.succeeded.Load(),
		Retried:    d.retried.Load(),
		Failed:     d.failed.Load(),
		Abandoned:  d.abandoned.Load(),
	}
}

func (d *Dispatcher) ensureQueue(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrStopped
	}
	if _, ok := d.queues[name]; ok {
		return nil
	}

	ch := make(chan *envelope, d.opts.BufferSize)
	d.queues[name] = ch
	for i := 0; i < d.opts.WorkersPerQueue; i++ {
		d.workers.Add(1)
		go d.work(name, ch)
	}
	logrus.WithFields(logrus.Fields{
		"queue":   name,
		"workers": d.opts.WorkersPerQueue,
	}).Info("Started queue workers")
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, env *envelope) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrStopped
	}
	queue := env.job.Queue()
	select {
	case d.queues[queue] <- env:
		metrics.QueueDepth.WithLabelValues(queue).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrStopped
	}
}

func (d *Dispatcher) work(queue string, ch <-chan *envelope) {
	defer d.workers.Done()
	for env := range ch {
		metrics.QueueDepth.WithLabelValues(queue).Dec()
		d.run(env)
	}
}

func (d *Dispatcher) run(env *envelope) {
	job := env.job
	policy := job.Policy()
	env.attempt++

	log := logrus.WithFields(logrus.Fields{
		"job":     job.Name(),
		"queue":   job.Queue(),
		"attempt": env.attempt,
		"tries":   policy.tries(),
	})

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if policy.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
	}
	start := time.Now()
	err := handle(ctx, job)
	cancel()
	metrics.JobDuration.WithLabelValues(job.Queue(), job.Name()).Observe(time.Since(start).Seconds())

	if err == nil {
		d.succeeded.Add(1)
		metrics.JobsTotal.WithLabelValues(job.Queue(), job.Name(), "success").Inc()
		env.release()
		log.WithField("duration", time.Since(start).String()).Info("Job completed")
		return
	}

	if env.attempt < policy.tries() && !IsPermanent(err) {
		delay := policy.BackoffFor(env.attempt)
		d.retried.Add(1)
		metrics.JobsTotal.WithLabelValues(job.Queue(), job.Name(), "retry").Inc()
		log.WithError(err).WithField("backoff", delay.String()).Warn("Job attempt failed, retrying")
		d.retryLater(env, delay)
		return
	}

	d.failed.Add(1)
	metrics.JobsTotal.WithLabelValues(job.Queue(), job.Name(), "failed").Inc()
	log.WithError(err).Error("Job failed permanently")
	d.fail(env, err)
	env.release()
}

func (d *Dispatcher) retryLater(env *envelope, delay time.Duration) {
	d.timers.Add(1)
	go func() {
		defer d.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if err := d.enqueue(d.ctx, env); err != nil {
				d.abandon(env, err)
			}
		case <-d.ctx.Done():
			d.abandon(env, ErrStopped)
		}
	}()
}

func (d *Dispatcher) abandon(env *envelope, reason error) {
	d.abandoned.Add(1)
	env.release()
	logrus.WithError(reason).WithFields(logrus.Fields{
		"job":     env.job.Name(),
		"attempt": env.attempt,
	}).Warn("Job retry abandoned")
}

// fail runs the job's Failed handler; a panic inside it is logged and swallowed
func (d *Dispatcher) fail(env *envelope, cause error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("job", env.job.Name()).Errorf("Failed handler panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), failedTimeout)
	defer cancel()
	env.job.Failed(ctx, cause)
}

func handle(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Handle(ctx)
}
