package locking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockExcludesConcurrentHolders(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	release, err := r.Lock(ctx, "syncAllocations")
	assert.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := false
	go func() {
		defer wg.Done()
		c, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		rel, err := r.Lock(c, "syncAllocations")
		if err == nil {
			acquired = true
			rel()
		}
	}()
	wg.Wait()
	assert.False(t, acquired, "second locker must not acquire while the first holds the lock")
	release()

	rel2, err := r.Lock(ctx, "syncAllocations")
	assert.NoError(t, err)
	rel2()
}

func TestDistinctNamesDoNotContend(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	release, err := r.Lock(ctx, "a")
	assert.NoError(t, err)
	defer release()

	rel2, err := r.Lock(ctx, "b")
	assert.NoError(t, err)
	rel2()
}
