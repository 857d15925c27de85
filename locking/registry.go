// Package locking provides an in-memory, process-wide named mutex registry
// used to serialise operations that must not interleave across goroutines,
// such as syncAllocations plans.
package locking

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import (
	"context"
	"fmt"
	"sync"

	golock "github.com/viney-shih/go-lock"
)

// Registry hands out one golock.RWMutex per name, creating it on first use.
type Registry struct {
	mu    sync.Mutex
	locks map[string]golock.RWMutex
}

// NewRegistry creates an empty named mutex registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]golock.RWMutex)}
}

func (r *Registry) get(name string) golock.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = golock.NewCASMutex()
		r.locks[name] = l
	}
	return l
}

// Lock acquires the write lock for name, returning a release function.
//
// @input - context, name.
//
// @output - release function, error.
func (r *Registry) Lock(ctx context.Context, name string) (func(), error) {
	l := r.get(name)
	if !l.TryLockWithContext(ctx) {
		return nil, fmt.Errorf("fail to lock %v", name)
	}
	return l.Unlock, nil
}

// RLock acquires the read lock for name, returning a release function.
//
// @input - context, name.
//
// @output - release function, error.
func (r *Registry) RLock(ctx context.Context, name string) (func(), error) {
	l := r.get(name)
	if !l.RTryLockWithContext(ctx) {
		return nil, fmt.Errorf("fail to rlock %v", name)
	}
	return l.RUnlock, nil
}
