package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-ops/vigil/internal/events"
)

var errInfra = fmt.Errorf("dial failed: %w", syscall.ECONNREFUSED)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()

	b := New("test", cfg, nil)
	t.Cleanup(b.Destroy)

	now := time.Now()
	b.clock = func() time.Time { return now }
	return b, &now
}

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := b.Call(func() (interface{}, error) {
			return nil, errInfra
		})
		require.Error(t, err)
	}
}

func succeedN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := b.Call(func() (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}
}

func TestBreakerSuccessStaysClosed(t *testing.T) {
	b, _ := newTestBreaker(t, Config{})

	succeedN(t, b, 20)

	assert.Equal(t, StateClosed, b.State())
	stats := b.Stats()
	assert.Equal(t, 20, stats.Successes)
	assert.Equal(t, 20, stats.TotalRequests)
	assert.Equal(t, 0, stats.Failures)
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 5, VolumeThreshold: 10})

	succeedN(t, b, 5)
	failN(t, b, 4)
	assert.Equal(t, StateClosed, b.State())

	failN(t, b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerVolumeThresholdBlocksOpen(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 4, VolumeThreshold: 10})

	// Four straight failures meet the failure threshold but not the volume
	// threshold, so the circuit must stay closed.
	failN(t, b, 4)
	assert.Equal(t, StateClosed, b.State())

	succeedN(t, b, 5)
	failN(t, b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerOpenFailsFast(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2, RecoveryTimeout: time.Minute})

	failN(t, b, 2)
	require.Equal(t, StateOpen, b.State())

	called := false
	_, err := b.Call(func() (interface{}, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.False(t, called, "operation must not run while the circuit is open")

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Name)
	assert.Equal(t, now.Add(time.Minute), openErr.RetryAt)
}

func TestBreakerOpenRejectionPublishesEvent(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(events.KindBreakerRejected)

	b := New("payments", Config{FailureThreshold: 1, VolumeThreshold: 1, RecoveryTimeout: time.Minute}, bus)
	t.Cleanup(b.Destroy)
	now := time.Now()
	b.clock = func() time.Time { return now }

	failN(t, b, 1)
	require.Equal(t, StateOpen, b.State())

	_, err := b.Call(func() (interface{}, error) { return "ok", nil })
	require.Error(t, err)
	assert.True(t, IsOpenError(err))

	select {
	case ev := <-sub:
		fields, ok := ev.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "payments", fields["name"])
	default:
		t.Fatal("no rejection event published")
	}
}

func TestBreakerRecoveryWindowBoundary(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2, RecoveryTimeout: time.Minute})

	opened := *now
	failN(t, b, 2)
	require.Equal(t, StateOpen, b.State())

	// One millisecond before the window closes: still failing fast.
	*now = opened.Add(time.Minute - time.Millisecond)
	_, err := b.Call(func() (interface{}, error) { return nil, nil })
	assert.True(t, IsOpenError(err))

	// One millisecond after: the probe is allowed through.
	*now = opened.Add(time.Minute + time.Millisecond)
	called := false
	_, err = b.Call(func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2, RecoveryTimeout: time.Minute})

	failN(t, b, 2)
	*now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := b.Call(func() (interface{}, error) {
			close(probeStarted)
			<-release
			return "ok", nil
		})
		done <- err
	}()

	<-probeStarted
	// Second caller while the probe is in flight is rejected.
	_, err := b.Call(func() (interface{}, error) { return nil, nil })
	assert.True(t, IsOpenError(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2, RecoveryTimeout: time.Minute})

	failN(t, b, 2)
	reopenedAt := now.Add(2 * time.Minute)
	*now = reopenedAt

	_, err := b.Call(func() (interface{}, error) { return nil, errInfra })
	require.Error(t, err)

	assert.Equal(t, StateOpen, b.State())
	stats := b.Stats()
	assert.Equal(t, 0, stats.Failures, "counters reset on a failed probe")
	assert.Equal(t, reopenedAt.Add(time.Minute), stats.NextAttemptTime)

	// The fresh recovery window is honored.
	_, err = b.Call(func() (interface{}, error) { return nil, nil })
	assert.True(t, IsOpenError(err))
}

func TestBreakerSuccessClosesAndResetsCounters(t *testing.T) {
	b, now := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2, RecoveryTimeout: time.Minute})

	failN(t, b, 2)
	*now = now.Add(2 * time.Minute)
	succeedN(t, b, 1)

	require.Equal(t, StateClosed, b.State())
	stats := b.Stats()
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.TotalRequests)
}

func TestBreakerBusinessErrorsPassThrough(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2})

	errBusiness := errors.New("order rejected: insufficient funds")
	for i := 0; i < 10; i++ {
		_, err := b.Call(func() (interface{}, error) { return nil, errBusiness })
		require.ErrorIs(t, err, errBusiness)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().Failures)
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2})

	failN(t, b, 2)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	stats := b.Stats()
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, 0, stats.TotalRequests)
	assert.True(t, stats.NextAttemptTime.IsZero())
}

func TestBreakerExecutePassesContext(t *testing.T) {
	b, _ := newTestBreaker(t, Config{})

	type ctxKey string
	ctx := context.WithValue(context.Background(), ctxKey("tenant"), "acme")

	result, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return ctx.Value(ctxKey("tenant")), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", result)
}

func TestBreakerDestroyIsIdempotent(t *testing.T) {
	b := New("destroy", Config{}, nil)
	b.Destroy()
	b.Destroy()
}

func TestStatsJSONRoundTrip(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2, VolumeThreshold: 2})
	failN(t, b, 2)

	data, err := json.Marshal(b.Stats())
	require.NoError(t, err)

	var decoded Stats
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "test", decoded.Name)
	assert.Equal(t, "OPEN", decoded.State)
	assert.Equal(t, 2, decoded.Failures)
}

func TestDefaultIsFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped connection refused", errInfra, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "db.internal"}, true},
		{"business error", errors.New("validation failed"), false},
		{"context canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultIsFailure(tt.err))
		})
	}
}
