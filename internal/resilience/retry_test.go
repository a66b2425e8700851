package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// failing returns an op that fails the first n calls and counts every call.
func failing(n int, calls *int, err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		if *calls <= n {
			return "", err
		}
		return "ok", nil
	}
}

func tinyDelays(n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = time.Duration(i+1) * time.Microsecond
	}
	return out
}

func TestDo_InvokesFailuresPlusOne(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		delays := tinyDelays(n)
		for failures := 0; failures < n; failures++ {
			slept := []time.Duration{}
			r, err := NewRetry("test", delays, false)
			require.NoError(t, err)
			r.OnRetry = func(_ int, d time.Duration, _ error) { slept = append(slept, d) }

			calls := 0
			out, err := Do(context.Background(), r, failing(failures, &calls, errBoom))
			require.NoError(t, err)
			require.Equal(t, "ok", out)
			require.Equal(t, failures+1, calls, "delays=%d failures=%d", n, failures)
			require.Equal(t, delays[:failures], slept)
		}
	}
}

func TestDo_ExhaustedMakesFinalAttempt(t *testing.T) {
	r := MustRetry("test", tinyDelays(3), false)

	calls := 0
	_, err := Do(context.Background(), r, failing(100, &calls, errBoom))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 4, calls)

	// The final attempt's success is returned as well.
	calls = 0
	out, err := Do(context.Background(), r, failing(3, &calls, errBoom))
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 4, calls)
}

func TestDo_EmptyDelaysRunsOnce(t *testing.T) {
	r := MustRetry("test", nil, false)
	calls := 0
	_, err := Do(context.Background(), r, failing(1, &calls, errBoom))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
}

func TestNewRetry_RepeatLastNeedsDelays(t *testing.T) {
	_, err := NewRetry("test", nil, true)
	require.Error(t, err)

	_, err = Do(context.Background(), Retry{RepeatLast: true}, failing(0, new(int), nil))
	require.Error(t, err)
}

func TestDo_RepeatLast(t *testing.T) {
	var slept []time.Duration
	r := MustRetry("test", []time.Duration{time.Microsecond, 2 * time.Microsecond}, true)
	r.OnRetry = func(_ int, d time.Duration, _ error) { slept = append(slept, d) }

	calls := 0
	out, err := Do(context.Background(), r, failing(6, &calls, errBoom))
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 7, calls)
	require.Equal(t, []time.Duration{
		time.Microsecond,
		2 * time.Microsecond, 2 * time.Microsecond, 2 * time.Microsecond, 2 * time.Microsecond, 2 * time.Microsecond,
	}, slept)
}

func TestDo_NoRetryKindsShortCircuit(t *testing.T) {
	for _, kind := range []Kind{KindNoRetry, KindShortForm, KindData} {
		t.Run(kind.String(), func(t *testing.T) {
			r := MustRetry("test", tinyDelays(5), true)
			calls := 0
			_, err := Do(context.Background(), r, failing(100, &calls, Mark(kind, errBoom)))
			require.ErrorIs(t, err, errBoom)
			require.Equal(t, kind, KindOf(err))
			require.Equal(t, 1, calls)
		})
	}
}

func TestDo_BypassKinds(t *testing.T) {
	r := MustRetry("download", tinyDelays(5), false, KindUnavailable)

	calls := 0
	_, err := Do(context.Background(), r, failing(100, &calls, Mark(KindUnavailable, errBoom)))
	require.Error(t, err)
	require.Equal(t, 1, calls)

	// Other kinds still retry.
	calls = 0
	_, err = Do(context.Background(), r, failing(2, &calls, Mark(KindTransient, errBoom)))
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsRepeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := MustRetry("test", []time.Duration{time.Millisecond}, true)
	r.OnRetry = func(attempt int, _ time.Duration, _ error) {
		if attempt == 3 {
			cancel()
		}
	}

	calls := 0
	_, err := Do(ctx, r, failing(1000, &calls, errBoom))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, calls)
}

func TestRun(t *testing.T) {
	calls := 0
	err := Run(context.Background(), MustRetry("test", tinyDelays(1), false), func(context.Context) error {
		calls++
		if calls == 1 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindUnexpected, KindOf(errBoom))
	require.Equal(t, KindUnexpected, KindOf(nil))
	require.Nil(t, Mark(KindData, nil))

	wrapped := errors.Join(errors.New("ctx"), Markf(KindUnavailable, "video %s gone", "abc"))
	require.Equal(t, KindUnavailable, KindOf(wrapped))
	require.True(t, Designed(wrapped))
	require.False(t, Designed(errBoom))
}

func TestEscalating(t *testing.T) {
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second, 10 * time.Second, 30 * time.Second, time.Minute}, Escalating(time.Second))
}
