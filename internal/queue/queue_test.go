package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJob struct {
	name     string
	queue    string
	key      string
	policy   Policy
	handler  func(ctx context.Context, attempt int) error
	onFailed func(err error)

	attempts atomic.Int32
	failures chan error
}

func newTestJob(policy Policy, handler func(ctx context.Context, attempt int) error) *testJob {
	return &testJob{
		name:     "test-job",
		queue:    "test",
		policy:   policy,
		handler:  handler,
		failures: make(chan error, 1),
	}
}

func (j *testJob) Name() string      { return j.name }
func (j *testJob) Queue() string     { return j.queue }
func (j *testJob) Policy() Policy    { return j.policy }
func (j *testJob) UniqueKey() string { return j.key }

func (j *testJob) Handle(ctx context.Context) error {
	return j.handler(ctx, int(j.attempts.Add(1)))
}

func (j *testJob) Failed(_ context.Context, err error) {
	j.failures <- err
	if j.onFailed != nil {
		j.onFailed(err)
	}
}

func newTestDispatcher(t *testing.T, locker Locker) *Dispatcher {
	t.Helper()
	d := NewDispatcher(locker, Options{WorkersPerQueue: 2, BufferSize: 10})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestRouteCrawler(t *testing.T) {
	tests := []struct {
		priority models.Priority
		want     string
	}{
		{models.PriorityUrgent, CrawlerHigh},
		{models.PriorityHigh, CrawlerHigh},
		{models.PriorityNormal, CrawlerNormal},
		{models.PriorityLow, CrawlerLow},
		{"", CrawlerNormal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RouteCrawler(tt.priority), string(tt.priority))
	}
}

func TestRouteSentiment(t *testing.T) {
	assert.Equal(t, SentimentSmall, RouteSentiment(0))
	assert.Equal(t, SentimentSmall, RouteSentiment(100))
	assert.Equal(t, SentimentMedium, RouteSentiment(101))
	assert.Equal(t, SentimentMedium, RouteSentiment(1000))
	assert.Equal(t, SentimentLarge, RouteSentiment(1001))
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{Timeout: time.Minute, Tries: 3, Backoff: []time.Duration{time.Second, 5 * time.Second}}
	assert.Equal(t, time.Duration(0), p.BackoffFor(0))
	assert.Equal(t, time.Second, p.BackoffFor(1))
	assert.Equal(t, 5*time.Second, p.BackoffFor(2))
	assert.Equal(t, 5*time.Second, p.BackoffFor(7))
	assert.Equal(t, 3*time.Minute+6*time.Second, p.lockTTL())

	p.UniqueFor = time.Hour
	assert.Equal(t, time.Hour, p.lockTTL())
	assert.Equal(t, time.Duration(0), Policy{}.BackoffFor(1))
	assert.Equal(t, 1, Policy{}.tries())
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	d := newTestDispatcher(t, nil)
	done := make(chan struct{})

	job := newTestJob(Policy{Tries: 3, Backoff: []time.Duration{time.Millisecond}}, func(_ context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("temporary")
		}
		close(done)
		return nil
	})
	require.NoError(t, d.Dispatch(context.Background(), job))
	waitClosed(t, done)

	assert.Equal(t, int32(3), job.attempts.Load())
	assert.Eventually(t, func() bool { return d.Stats().Succeeded == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), d.Stats().Retried)
	assert.Empty(t, job.failures)
}

func TestDispatcher_FailedCalledOnceAfterLastAttempt(t *testing.T) {
	d := newTestDispatcher(t, nil)
	job := newTestJob(Policy{Tries: 2, Backoff: []time.Duration{time.Millisecond}}, func(_ context.Context, attempt int) error {
		return errors.New("boom")
	})
	require.NoError(t, d.Dispatch(context.Background(), job))

	select {
	case err := <-job.failures:
		assert.EqualError(t, err, "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("Failed was not called")
	}
	assert.Equal(t, int32(2), job.attempts.Load())
	assert.Eventually(t, func() bool { return d.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_PermanentErrorSkipsRetries(t *testing.T) {
	d := newTestDispatcher(t, nil)
	notFound := errors.New("rule not found")
	job := newTestJob(Policy{Tries: 3, Backoff: []time.Duration{time.Millisecond}}, func(context.Context, int) error {
		return Permanent(notFound)
	})
	require.NoError(t, d.Dispatch(context.Background(), job))

	select {
	case err := <-job.failures:
		assert.ErrorIs(t, err, notFound)
		assert.True(t, IsPermanent(err))
	case <-time.After(5 * time.Second):
		t.Fatal("Failed was not called")
	}
	assert.Equal(t, int32(1), job.attempts.Load())
	assert.Nil(t, Permanent(nil))
}

func TestDispatcher_TimeoutAndPanics(t *testing.T) {
	d := newTestDispatcher(t, nil)

	slow := newTestJob(Policy{Timeout: 10 * time.Millisecond, Tries: 1}, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, d.Dispatch(context.Background(), slow))
	select {
	case err := <-slow.failures:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout was not enforced")
	}

	// a panic in Handle is a failed attempt, a panic in Failed is swallowed
	panicky := newTestJob(Policy{Tries: 1}, func(context.Context, int) error {
		panic("handler exploded")
	})
	panicky.onFailed = func(error) { panic("failure recording exploded") }
	require.NoError(t, d.Dispatch(context.Background(), panicky))
	select {
	case err := <-panicky.failures:
		assert.Contains(t, err.Error(), "handler exploded")
	case <-time.After(5 * time.Second):
		t.Fatal("Failed was not called")
	}

	// workers keep running afterwards
	done := make(chan struct{})
	ok := newTestJob(Policy{Tries: 1}, func(context.Context, int) error {
		close(done)
		return nil
	})
	require.NoError(t, d.Dispatch(context.Background(), ok))
	waitClosed(t, done)
}

func TestDispatcher_UniqueJobs(t *testing.T) {
	d := newTestDispatcher(t, cache.NewLocker(cache.NewMemoryStore()))

	release := make(chan struct{})
	done := make(chan struct{})
	first := newTestJob(Policy{Tries: 1, UniqueFor: time.Hour}, func(context.Context, int) error {
		<-release
		close(done)
		return nil
	})
	first.key = "batch_1"
	require.NoError(t, d.Dispatch(context.Background(), first))

	second := newTestJob(Policy{Tries: 1, UniqueFor: time.Hour}, func(context.Context, int) error { return nil })
	second.key = "batch_1"
	err := d.Dispatch(context.Background(), second)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	other := newTestJob(Policy{Tries: 1}, func(context.Context, int) error { return nil })
	other.key = "batch_2"
	assert.NoError(t, d.Dispatch(context.Background(), other))

	close(release)
	waitClosed(t, done)

	assert.Eventually(t, func() bool {
		return d.Dispatch(context.Background(), second) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_DispatchAfter(t *testing.T) {
	d := newTestDispatcher(t, nil)
	done := make(chan struct{})
	var ranAt atomic.Int64

	job := newTestJob(Policy{Tries: 1}, func(context.Context, int) error {
		ranAt.Store(time.Now().UnixNano())
		close(done)
		return nil
	})

	start := time.Now()
	require.NoError(t, d.DispatchAfter(context.Background(), job, 30*time.Millisecond))
	waitClosed(t, done)
	assert.GreaterOrEqual(t, time.Duration(ranAt.Load()-start.UnixNano()), 30*time.Millisecond)
}

func TestDispatcher_Stop(t *testing.T) {
	d := NewDispatcher(nil, Options{WorkersPerQueue: 1, BufferSize: 10})

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		job := newTestJob(Policy{Tries: 1}, func(context.Context, int) error {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
			return nil
		})
		require.NoError(t, d.Dispatch(context.Background(), job))
	}

	delayed := newTestJob(Policy{Tries: 1}, func(context.Context, int) error {
		ran.Add(100)
		return nil
	})
	require.NoError(t, d.DispatchAfter(context.Background(), delayed, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, int32(3), ran.Load())
	assert.ErrorIs(t, d.Dispatch(context.Background(), delayed), ErrStopped)
	assert.ErrorIs(t, d.DispatchAfter(context.Background(), delayed, time.Second), ErrStopped)
}
