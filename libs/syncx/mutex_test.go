package syncx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutexSerializesConcurrentIncrements(t *testing.T) {
	var mu Mutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestRWMutexAllowsConcurrentReaders(t *testing.T) {
	var mu RWMutex
	value := 0

	mu.Lock()
	value = 7
	mu.Unlock()

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			mu.RLock()
			results[idx] = value
			mu.RUnlock()
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 7, r)
	}
}

func TestRWMutexWriteExcludesReaders(t *testing.T) {
	var mu RWMutex
	mu.Lock()
	defer mu.Unlock()

	done := make(chan struct{})
	go func() {
		mu.RLock()
		mu.RUnlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader acquired lock while writer held it")
	default:
	}
}
