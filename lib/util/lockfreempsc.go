package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations without locks. Items are handed to the
// consumer through the channel returned by Recv.
type LockFreeMPSC[T interface{}] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool
	aborted  chan struct{}
	abort    sync.Once
	pushed   atomic.Int64
	taken    atomic.Int64

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new lock-free multi-producer single-consumer queue
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out:     make(chan *T),
		aborted: make(chan struct{}),
	}

	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue. It never blocks on the consumer.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}

	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	q.pushed.Add(1)

	var tailNode *node[T]
	var backoff uint8 = 0

	for {
		tailNode = q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already moved the tail forward
				q.tail.CompareAndSwap(tailNode, newNode)

				// the consumer checks for items while holding mu, so signalling
				// under mu cannot slip in between its check and its Wait
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()

				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin first, then yield with growing backoff
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume continuously sends items from the linked list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()

			if next == nil {
				break
			}

			hasItems = true

			value := next.value
			q.head.Store(next)

			select {
			case q.out <- value:
				q.taken.Add(1)
			case <-q.aborted:
				return
			}

			// help go gc
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() && !q.isAborted() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}

		if q.isAborted() {
			return
		}
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// This allows the queue to be used with the '<-' operator in select statements.
// The channel is closed once the queue is closed and drained, or aborted.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close closes the queue, preventing further writes.
// Any items already in the queue will still be delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Abort closes the queue and drops every item that has not been delivered yet.
// Use it when nobody will drain the queue anymore, otherwise the consumer
// goroutine would wait on the output channel forever.
func (q *LockFreeMPSC[T]) Abort() {
	q.closed.Store(true)
	q.abort.Do(func() { close(q.aborted) })

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()

	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items pushed but not yet received.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.pushed.Load() - q.taken.Load())
}

func (q *LockFreeMPSC[T]) isAborted() bool {
	select {
	case <-q.aborted:
		return true
	default:
		return false
	}
}
