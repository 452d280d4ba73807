package trader

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCycleBudget(t *testing.T) {
	b := NewCycleBudget(2)
	assert.True(t, b.TryAcquire())
	assert.True(t, b.TryAcquire())
	assert.False(t, b.TryAcquire(), "预算耗尽后拒绝")

	b.Reset(1)
	assert.True(t, b.TryAcquire())
	assert.False(t, b.TryAcquire())
}

func TestCycleBudgetNilSafe(t *testing.T) {
	var b *CycleBudget
	assert.True(t, b.TryAcquire(), "未配置预算时不限流")
}

func TestCycleBudgetConcurrent(t *testing.T) {
	b := NewCycleBudget(5)
	var wg sync.WaitGroup
	granted := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire() {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)
	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 5, count, "并发抢占恰好放行预算数")
}
