package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type outcome struct {
	ok  bool
	msg string
}

func (o outcome) FailureReason() (string, bool) {
	if o.ok {
		return "", false
	}
	return o.msg, true
}

func TestDoRetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	var (
		calls    int
		failures []int
		stamps   []time.Time
	)
	p := Policy{
		MaxRetries: 2,
		Delay:      20 * time.Millisecond,
		OnFailure:  func(attempt int, _ error) { failures = append(failures, attempt) },
	}
	res, err := Do(context.Background(), p, func(context.Context) outcome {
		calls++
		stamps = append(stamps, time.Now())
		return outcome{msg: "upstream 503"}
	})

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 3, exhausted.Attempts)
	require.Contains(t, err.Error(), "upstream 503")
	require.Equal(t, "upstream 503", res.msg)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2, 3}, failures)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 20*time.Millisecond)
	}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	res, err := Do(context.Background(), Policy{MaxRetries: 3}, func(context.Context) outcome {
		calls++
		if calls < 2 {
			return outcome{msg: "flaky"}
		}
		return outcome{ok: true}
	})
	require.NoError(t, err)
	require.True(t, res.ok)
	require.Equal(t, 2, calls)
}

func TestDoRecoversPanics(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), Policy{MaxRetries: 1}, func(context.Context) outcome {
		calls++
		panic("boom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, 2, calls)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxRetries: 5, Delay: time.Hour}, func(context.Context) outcome {
		calls++
		cancel()
		return outcome{msg: "nope"}
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoNegativeRetriesRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), Policy{MaxRetries: -1}, func(context.Context) outcome {
		calls++
		return outcome{}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
