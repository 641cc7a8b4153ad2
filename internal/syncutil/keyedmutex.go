// Package syncutil provides keyed locking primitives for per-order
// serialization of financial actions.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedMutex provides a fixed-size pool of channel-based mutexes keyed by
// string (order ID). The channel implementation supports context
// cancellation: callers waiting on a busy order bail out when their request
// is cancelled instead of queueing forever.
//
// Two distinct keys may hash to the same shard and contend; that costs
// latency, never correctness.
type KeyedMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

type chanMutex struct {
	ch chan struct{}
}

// NewKeyedMutex creates a new keyed mutex pool.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // start unlocked
		}
	})
}

// Lock acquires the mutex for the given key, respecting context
// cancellation. On success it returns an unlock function which the caller
// MUST invoke. On cancellation it returns nil and the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
