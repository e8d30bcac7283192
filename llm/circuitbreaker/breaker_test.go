package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duskvane/aegis/llm"
)

// errProviderUnreachable stands in for a transient failure talking to the
// configured LLM provider — the thing this breaker actually wraps
// (llm/openaicompat/provider.go).
var errProviderUnreachable = errors.New("llm provider unreachable")

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)
	assert.Equal(t, 3, cfg.HalfOpenMaxCalls)
	assert.Nil(t, cfg.OnStateChange)
}

func TestNewCircuitBreaker_ZeroValuesFallBackToDefaults(t *testing.T) {
	tests := []struct {
		name              string
		cfg               *Config
		wantThreshold     int
		wantHalfOpenCalls int
	}{
		{name: "nil config uses defaults", cfg: nil, wantThreshold: 5, wantHalfOpenCalls: 3},
		{
			name:              "zero/negative values corrected to defaults",
			cfg:               &Config{HalfOpenMaxCalls: -1},
			wantThreshold:     5,
			wantHalfOpenCalls: 3,
		},
		{
			name:              "custom values preserved",
			cfg:               &Config{Threshold: 3, Timeout: 5 * time.Second, ResetTimeout: 10 * time.Second, HalfOpenMaxCalls: 1},
			wantThreshold:     3,
			wantHalfOpenCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(tt.cfg, zap.NewNop())
			require.NotNil(t, cb)
			assert.Equal(t, StateClosed, cb.State())

			b := cb.(*breaker)
			assert.Equal(t, tt.wantThreshold, b.config.Threshold)
			assert.Equal(t, tt.wantHalfOpenCalls, b.config.HalfOpenMaxCalls)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

func TestBreaker_TripsAfterConsecutiveProviderFailures(t *testing.T) {
	threshold := 3
	cb := NewCircuitBreaker(&Config{
		Threshold:    threshold,
		Timeout:      5 * time.Second,
		ResetTimeout: time.Hour,
	}, zap.NewNop())

	for i := 0; i < threshold-1; i++ {
		err := cb.Call(context.Background(), func() error { return errProviderUnreachable })
		assert.ErrorIs(t, err, errProviderUnreachable)
		assert.Equal(t, StateClosed, cb.State())
	}

	err := cb.Call(context.Background(), func() error { return errProviderUnreachable })
	assert.ErrorIs(t, err, errProviderUnreachable)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_OpenRejectsCallsWithoutReachingProvider(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 5 * time.Second, ResetTimeout: time.Hour}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	require.Equal(t, StateOpen, cb.State())

	calledProvider := false
	err := cb.Call(context.Background(), func() error {
		calledProvider = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, calledProvider, "open breaker must not invoke the wrapped provider call")
}

func TestBreaker_OpenTransitionsToHalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Threshold:        1,
		Timeout:          5 * time.Second,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	err := cb.Call(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopensBreaker(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Threshold:        1,
		Timeout:          5 * time.Second,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	err := cb.Call(context.Background(), func() error { return errProviderUnreachable })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_HalfOpenRejectsCallsOverMaxConcurrency(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Threshold:        1,
		Timeout:          5 * time.Second,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)

	b := cb.(*breaker)
	b.mu.Lock()
	b.state = StateHalfOpen
	b.halfOpenCallCount = 1 // simulate a probe already in flight
	b.mu.Unlock()

	err := cb.Call(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyCallsInHalfOpen)
}

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 5 * time.Second, ResetTimeout: time.Hour}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	err := cb.Call(context.Background(), func() error { return nil })
	assert.NoError(t, err)
}

func TestBreaker_OnStateChangeFiresForEachTransition(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to State }

	cb := NewCircuitBreaker(&Config{Threshold: 2, Timeout: 5 * time.Second, ResetTimeout: 50 * time.Millisecond}, zap.NewNop())

	b := cb.(*breaker)
	b.config.OnStateChange = func(from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	}

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })

	time.Sleep(80 * time.Millisecond)
	_ = cb.Call(context.Background(), func() error { return nil })

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(transitions), 2)
	assert.Equal(t, StateClosed, transitions[0].from)
	assert.Equal(t, StateOpen, transitions[0].to)
}

func TestBreaker_CallWithResult_ReturnsProviderResponse(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 5, Timeout: 5 * time.Second}, zap.NewNop())

	result, err := cb.CallWithResult(context.Background(), func() (any, error) {
		return "chat completion response", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "chat completion response", result)
}

func TestBreaker_SuccessResetsFailureCountInClosedState(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 3, Timeout: 5 * time.Second}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	_ = cb.Call(context.Background(), func() error { return nil })

	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	_ = cb.Call(context.Background(), func() error { return errProviderUnreachable })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_ClientErrorsDoNotTripTheBreaker(t *testing.T) {
	// A bad request or bad API key isn't the provider's fault and won't clear
	// up by retrying; the breaker should stay closed so other requests from
	// other sessions keep flowing.
	cb := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 5 * time.Second, ResetTimeout: time.Hour}, zap.NewNop())

	err := cb.Call(context.Background(), func() error {
		return &llm.Error{Code: llm.ErrUnauthorized, Message: "invalid api key"}
	})
	assert.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_ConcurrentSafety(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 100, Timeout: 5 * time.Second, ResetTimeout: 50 * time.Millisecond}, zap.NewNop())

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Call(context.Background(), func() error { return nil }) == nil {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, cb.State())
}
