package block

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrChunkBudget is returned when an allocator has handed out its whole chunk
// budget.
var ErrChunkBudget = errors.New("block: chunk budget exhausted")

// Allocator hands out fixed-size chunks. n is the size class; a store always
// asks for the same n.
type Allocator[T any] interface {
	Alloc(n int) ([]T, error)
	Free(chunk []T)
}

// PoolAllocator recycles chunks per size class through sync.Pool and enforces
// an optional budget of live chunks (0 = unlimited). Safe for concurrent use,
// so one allocator can back every store of a kind across worlds.
type PoolAllocator[T any] struct {
	maxChunks int64
	live      atomic.Int64
	pools     sync.Map // int -> *sync.Pool
}

func NewPoolAllocator[T any](maxChunks int) *PoolAllocator[T] {
	return &PoolAllocator[T]{maxChunks: int64(maxChunks)}
}

func (a *PoolAllocator[T]) Alloc(n int) ([]T, error) {
	if n <= 0 {
		return nil, errors.New("block: chunk size must be positive")
	}
	if live := a.live.Add(1); a.maxChunks > 0 && live > a.maxChunks {
		a.live.Add(-1)
		return nil, ErrChunkBudget
	}
	if v := a.pool(n).Get(); v != nil {
		return *(v.(*[]T)), nil
	}
	return make([]T, n), nil
}

// Free zeroes the chunk and returns it to its size class.
func (a *PoolAllocator[T]) Free(chunk []T) {
	if chunk == nil {
		return
	}
	clear(chunk)
	a.live.Add(-1)
	chunk = chunk[:cap(chunk)]
	a.pool(len(chunk)).Put(&chunk)
}

// Live is the number of chunks currently handed out.
func (a *PoolAllocator[T]) Live() int { return int(a.live.Load()) }

func (a *PoolAllocator[T]) pool(n int) *sync.Pool {
	if p, ok := a.pools.Load(n); ok {
		return p.(*sync.Pool)
	}
	p, _ := a.pools.LoadOrStore(n, &sync.Pool{})
	return p.(*sync.Pool)
}
