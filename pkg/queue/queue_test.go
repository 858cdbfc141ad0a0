package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueue_FIFOSingleProducer(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(fmt.Sprintf("q%d", i), "terminal")
		require.NoError(t, err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("q%d", i), got.Text)
		assert.Equal(t, uint64(i+1), got.Seq)
	}
}

func TestQueue_FIFOAcrossProducers(t *testing.T) {
	q := New()

	// Producer A finishes before producer B starts.
	a, err := q.Enqueue("from-a", "terminal")
	require.NoError(t, err)
	b, err := q.Enqueue("from-b", "web")
	require.NoError(t, err)
	assert.Less(t, a.Seq, b.Seq)

	ctx := context.Background()
	first, _ := q.Dequeue(ctx)
	second, _ := q.Dequeue(ctx)
	assert.Equal(t, "from-a", first.Text)
	assert.Equal(t, "from-b", second.Text)
}

func TestQueue_ConcurrentProducersNoLossNoDup(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New()
	const producers, perProducer = 8, 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := q.Enqueue(fmt.Sprintf("%d-%d", p, i), "test")
				assert.NoError(t, err)
			}
		}(p)
	}

	seen := make(map[string]bool)
	lastSeq := uint64(0)
	lastPerProducer := make(map[int]int)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for n := 0; n < producers*perProducer; n++ {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.False(t, seen[item.Text], "duplicate %s", item.Text)
		seen[item.Text] = true
		assert.Greater(t, item.Seq, lastSeq, "sequence must increase")
		lastSeq = item.Seq

		var p, i int
		_, err = fmt.Sscanf(item.Text, "%d-%d", &p, &i)
		require.NoError(t, err)
		if prev, ok := lastPerProducer[p]; ok {
			assert.Greater(t, i, prev, "per-producer order")
		}
		lastPerProducer[p] = i
	}
	wg.Wait()
	assert.Len(t, seen, producers*perProducer)
	assert.Zero(t, q.Len())
}

func TestQueue_DequeueBlocksUntilItem(t *testing.T) {
	q := New()
	got := make(chan Query, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("Dequeue returned before any item was enqueued")
	case <-time.After(30 * time.Millisecond):
	}

	_, err := q.Enqueue("hello", "terminal")
	require.NoError(t, err)

	select {
	case item := <-got:
		assert.Equal(t, "hello", item.Text)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up")
	}
}

func TestQueue_CloseWakesConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue not released by Close")
	}
}

func TestQueue_ClosedDropsRemaining(t *testing.T) {
	q := New()
	_, _ = q.Enqueue("one", "terminal")
	_, _ = q.Enqueue("two", "terminal")
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed, "pending items are not delivered after close")

	dropped := q.Drain()
	require.Len(t, dropped, 2)
	assert.Equal(t, "one", dropped[0].Text)
	assert.Equal(t, "two", dropped[1].Text)

	_, err = q.Enqueue("late", "terminal")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestQueue_DequeueContextCancel(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
