package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_DelayIsExponentialAndCapped(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     350 * time.Millisecond,
	}

	require.Equal(t, 100*time.Millisecond, p.Delay(1))
	require.Equal(t, 200*time.Millisecond, p.Delay(2))
	require.Equal(t, 350*time.Millisecond, p.Delay(3))
	require.Equal(t, 350*time.Millisecond, p.Delay(10))
}

func TestRetryPolicy_DelayWithMultiplier(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 10 * time.Millisecond, BackoffMultiplier: 3}
	require.Equal(t, 10*time.Millisecond, p.Delay(1))
	require.Equal(t, 30*time.Millisecond, p.Delay(2))
	require.Equal(t, 90*time.Millisecond, p.Delay(3))
}

func TestRetryPolicy_NoBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	require.Zero(t, p.Delay(1))
	require.Zero(t, p.Delay(2))
}

func TestRetryPolicy_AttemptsAtLeastOne(t *testing.T) {
	require.Equal(t, 1, RetryPolicy{}.Attempts())
	require.Equal(t, 1, RetryPolicy{MaxAttempts: -2}.Attempts())
	require.Equal(t, 4, RetryPolicy{MaxAttempts: 4}.Attempts())
}

func TestPolicyTable_For(t *testing.T) {
	custom := RetryPolicy{MaxAttempts: 7}
	fallback := RetryPolicy{MaxAttempts: 2}

	table := PolicyTable{
		Default:  fallback,
		Policies: map[string]RetryPolicy{"execute_test_cases": custom},
	}
	require.Equal(t, custom, table.For("execute_test_cases"))
	require.Equal(t, fallback, table.For("anything_else"))

	require.Equal(t, DefaultRetryPolicy, PolicyTable{}.For("anything"))
}
