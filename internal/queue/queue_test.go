package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_HighPriorityServedFirst(t *testing.T) {
	q := NewMemoryQueue(16)
	defer q.Close()

	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "low-1", Stage: "transcribe"}, PriorityDefault))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "high-1", Stage: "transcribe"}, PriorityHigh))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "high-1", d.Message.JobID)

	d, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "low-1", d.Message.JobID)
}

func TestMemoryQueue_DefaultPriorityNotStarved(t *testing.T) {
	q := NewMemoryQueue(64)
	defer q.Close()

	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "low-1"}, PriorityDefault))
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Enqueue(ctx, Message{JobID: "high"}, PriorityHigh))
	}

	// The default message must surface within the fairness window even
	// though high-priority work keeps arriving.
	sawDefault := false
	for i := 0; i <= highStreakLimit; i++ {
		d, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, d)
		if d.Message.JobID == "low-1" {
			sawDefault = true
			break
		}
	}

	assert.True(t, sawDefault, "default-priority message was starved")
}

func TestMemoryQueue_DequeueTimesOutEmpty(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	start := time.Now()
	d, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueue_DequeueCancelled(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_NackRequeues(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job-1", Stage: "summarize", Attempt: 2}, PriorityDefault))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Nack(true))

	d, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.Message.JobID)
	assert.Equal(t, 2, d.Message.Attempt)
}

func TestMemoryQueue_NackKeepsPriorityLane(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "stale", Stage: "transcribe"}, PriorityHigh))

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	// Default work arriving while the high delivery is in flight must not
	// jump ahead of it after a requeue.
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "fresh", Stage: "transcribe"}, PriorityDefault))
	require.NoError(t, d.Nack(true))

	d, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "stale", d.Message.JobID, "nacked high-priority message lost its lane")
}

func TestMemoryQueue_EnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(4)
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), Message{JobID: "job-1"}, PriorityDefault)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryQueue_DequeueUnblocksOnEnqueue(t *testing.T) {
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx := context.Background()

	done := make(chan *Delivery, 1)
	go func() {
		d, err := q.Dequeue(ctx, 2*time.Second)
		if err == nil {
			done <- d
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "job-1"}, PriorityDefault))

	select {
	case d := <-done:
		require.NotNil(t, d)
		assert.Equal(t, "job-1", d.Message.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
}
