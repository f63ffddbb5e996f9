package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackOff_NextBackOff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		step        time.Duration
		maxInterval time.Duration
		want        []time.Duration
	}{
		{
			name: "given step, then intervals grow linearly",
			step: 500 * time.Millisecond,
			want: []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond, 2 * time.Second},
		},
		{
			name: "given zero step, then intervals are zero",
			step: 0,
			want: []time.Duration{0, 0, 0},
		},
		{
			name:        "given max interval, then intervals are capped",
			step:        time.Second,
			maxInterval: 2500 * time.Millisecond,
			want:        []time.Duration{time.Second, 2 * time.Second, 2500 * time.Millisecond, 2500 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := NewLinearBackOff(tt.step)
			b.MaxInterval = tt.maxInterval

			for i, want := range tt.want {
				assert.Equal(t, want, b.NextBackOff(), "interval #%d", i)
			}
			assert.Equal(t, len(tt.want), b.Attempt())
		})
	}
}

func TestLinearBackOff_Reset(t *testing.T) {
	t.Parallel()

	b := NewLinearBackOff(100 * time.Millisecond)
	b.NextBackOff()
	b.NextBackOff()

	b.Reset()

	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestLinearBackOff_DrivesRetry(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0

	got, err := backoff.Retry(context.Background(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "done", nil
	},
		backoff.WithBackOff(NewLinearBackOff(time.Millisecond)),
		backoff.WithNotify(func(_ error, d time.Duration) { waits = append(waits, d) }),
	)

	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}
