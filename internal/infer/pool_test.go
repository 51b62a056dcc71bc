package infer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDo_RunsAndReturnsError(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	ran := false
	require.NoError(t, p.Do(context.Background(), func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	want := errors.New("boom")
	assert.Equal(t, want, p.Do(context.Background(), func() error { return want }))
}

func TestPoolDo_CancelledBeforeDispatch(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	// occupy the only worker
	block := make(chan struct{})
	go p.Do(context.Background(), func() error { <-block; return nil })
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, func() error {
		t.Error("must not run after cancel")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var cur, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func() error {
				n := atomic.AddInt64(&cur, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&cur, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestPoolDo_AfterClose(t *testing.T) {
	p := NewPool(1)
	p.Close()
	time.Sleep(20 * time.Millisecond) // let the workers drain out

	err := p.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
