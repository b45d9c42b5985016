// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// The stream service uses it as the per-stream inbox of a shared link: the
// receive loop of the link pushes frames for many streams and must never block
// on a slow reader, while each stream session consumes its own inbox.
//
// Features and Guarantees:
//
//   - Lock-Free: atomic operations for high throughput and low latency even under high contention
//   - Unbounded Size: the queue can grow as needed, producers never block
//   - Thread-Safe writes: Allows any number of goroutines to safely Push() concurrently
//   - Single Consumer: Designed for a single goroutine to consume values (via the Recv() channel).
//   - Ordering: items pushed by one producer are received in push order. Under concurrent
//     Push() operations the order between producers is decided by whichever finishes first.
//   - Abortable: Abort() drops undelivered items and stops the consumer goroutine.
package util
