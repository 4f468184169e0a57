package batch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpress/signalpress/config"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%02d", i)
	}
	return out
}

func TestPartitionRemainderInLastBatch(t *testing.T) {
	batches := Partition(ids(25), 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	// order must be preserved across the whole partition
	assert.Equal(t, "item-00", batches[0][0])
	assert.Equal(t, "item-10", batches[1][0])
	assert.Equal(t, "item-24", batches[2][4])
}

func TestPartitionExactMultiple(t *testing.T) {
	batches := Partition(ids(20), 10)
	require.Len(t, batches, 2)
	assert.Len(t, batches[1], 10)
}

func TestPartitionFewerItemsThanBatchSize(t *testing.T) {
	batches := Partition(ids(3), 10)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestPartitionDegenerateInputs(t *testing.T) {
	assert.Nil(t, Partition(nil, 10))
	assert.Nil(t, Partition(ids(5), 0))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 5*time.Minute, p.BackoffFor(1))
	assert.Equal(t, 10*time.Minute, p.BackoffFor(2))
	assert.Equal(t, 20*time.Minute, p.BackoffFor(3))
	// past the schedule the last backoff repeats
	assert.Equal(t, 20*time.Minute, p.BackoffFor(7))

	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.BatchConfig{
		MaxRetries:           2,
		RetryBackoffsMinutes: []int{1, 2},
	})
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.BackoffFor(1))

	// empty config falls back to the defaults
	p = PolicyFromConfig(config.BatchConfig{})
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 5*time.Minute, p.BackoffFor(1))
}
