package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
)

var errBoom = errors.New("boom")

func fastOpts(max int) Options {
	return Options{MaxRetries: max, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetryBoundRespected(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	}, fastOpts(3))

	require.Same(t, errBoom, err, "original error must propagate unwrapped")
	assert.Equal(t, 3, calls)
}

func TestDo_SuccessAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	opts := fastOpts(3)
	opts.OnRetry = func(attempt int, err error) {
		retried = append(retried, attempt)
		assert.Same(t, errBoom, err)
	}

	got, err := Do(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBoom
		}
		return "ok", nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ImmediateSuccessHasNoDelay(t *testing.T) {
	start := time.Now()
	retries := 0
	got, err := Do(context.Background(), func(context.Context) (int, error) {
		return 7, nil
	}, Options{MaxRetries: 3, InitialDelay: time.Hour, OnRetry: func(int, error) { retries++ }})

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Zero(t, retries)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDo_BackoffCapRespected(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 1, nil
	}, Options{MaxRetries: 3, InitialDelay: 10 * time.Second, MaxDelay: 50 * time.Millisecond})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "delay must be capped at MaxDelay")
}

func TestDo_ConditionRejectsStopsImmediately(t *testing.T) {
	calls := 0
	opts := fastOpts(5)
	opts.Condition = RateLimit()

	_, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	}, opts)

	require.Same(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	}, Options{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour})

	require.Same(t, errBoom, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_PropagatesError(t *testing.T) {
	calls := 0
	err := Run(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	}, fastOpts(2))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestNextDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextDelay(time.Second, 2, time.Minute))
	assert.Equal(t, time.Minute, nextDelay(45*time.Second, 2, time.Minute))
}

func TestConditions(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		err  error
		want bool
	}{
		{"zero value retries anything", Condition{}, errBoom, true},
		{"network refused", Network(), fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"network message", Network(), errors.New("request ETIMEDOUT after 30s"), true},
		{"network deadline", Network(), context.DeadlineExceeded, true},
		{"network engine timeout", Network(), terrors.NewExecutionTimeout("claude", time.Minute), true},
		{"network ignores plain", Network(), errBoom, false},
		{"rate limit 429", RateLimit(), &googleapi.Error{Code: 429}, true},
		{"rate limit message", RateLimit(), errors.New("Rate limit exceeded"), true},
		{"rate limit ignores 500", RateLimit(), &googleapi.Error{Code: 500}, false},
		{"server 503", ServerError(), &googleapi.Error{Code: 503}, true},
		{"server via HTTPStatus", ServerError(), terrors.NewNotifyFailed("sms", 502, "bad gateway"), true},
		{"server ignores 404", ServerError(), &googleapi.Error{Code: 404}, false},
		{"any combines", Any(RateLimit(), ServerError()), &googleapi.Error{Code: 500}, true},
		{"transient rejects 400", Transient(), &googleapi.Error{Code: 400, Message: "bad request"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Match(tt.err))
		})
	}
}

func TestAny_Deduplicates(t *testing.T) {
	c := Any(Network(), Network(), RateLimit())
	assert.Equal(t, []Kind{KindNetwork, KindRateLimit}, c.Kinds())
}
