package jobs

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupRunsAllTasks(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var counter int64
	g := NewGroup(pool)
	for i := 0; i < 100; i++ {
		g.Go(func() { atomic.AddInt64(&counter, 1) })
	}
	g.Wait()

	assert.Equal(t, int64(100), counter)
}

func TestShardCoversEveryIndexExactlyOnce(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	const n = 37
	var hits [n]int32
	Shard(pool, n, 4, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})

	for i, h := range hits {
		assert.Equal(t, int32(1), h, "index %d", i)
	}
}

func TestShardHandlesZeroItems(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	called := false
	Shard(pool, 0, 2, func(start, end int) { called = true })
	assert.False(t, called)
}

func TestNewPoolClampsWorkerCount(t *testing.T) {
	pool := NewPool(1000)
	defer pool.Close()
	assert.NotNil(t, pool)
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	pool := NewPool(2)
	pool.Close()
	pool.Close()
}
