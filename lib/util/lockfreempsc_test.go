package util

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %v", i, *val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, but got %v", *val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestPushNil verifies that nil values are rejected
func TestPushNil(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("Push(nil) should fail")
	}
}

// TestConcurrentProducers verifies the queue works correctly with multiple producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	received := make(map[string]bool)
	done := make(chan struct{})
	receivedCount := 0

	go func() {
		defer close(done)
		for receivedCount < totalItems {
			select {
			case val := <-q.Recv():
				if val == nil {
					t.Errorf("Received nil item")
					return
				}
				key := fmt.Sprintf("%v", *val)
				if received[key] {
					t.Errorf("Duplicate item received: %v", *val)
				}
				received[key] = true
				receivedCount++
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", receivedCount, totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)

	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				val := base + i
				if !q.Push(&val) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}

	if receivedCount != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, receivedCount)
	}
}

// TestCloseQueue verifies that closing keeps pending items deliverable
func TestCloseQueue(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}

	q.Close()

	val := 100
	if q.Push(&val) {
		t.Error("Should not be able to push after queue is closed")
	}
	if !q.IsClosed() {
		t.Error("IsClosed should report true")
	}

	for i := 0; i < 5; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %v", i, *val)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Channel should be closed but is still open")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel was not closed after draining")
	}
}

// TestAbortDropsPending verifies that Abort releases the consumer without a reader
func TestAbortDropsPending(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}

	aborted := make(chan struct{})
	go func() {
		q.Abort()
		close(aborted)
	}()

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("Abort did not return while items were pending")
	}

	// the output channel is closed, at most the item already in flight is lost
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-q.Recv():
			if !ok {
				return
			}
			t.Fatal("Received item after abort")
		case <-timeout:
			t.Fatal("Channel was not closed after abort")
		}
	}
}

// TestAbortIdle verifies Abort on an empty queue wakes the waiting consumer
func TestAbortIdle(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Abort()
		q.Abort()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Abort blocked on idle queue")
	}
}

// TestLen tests the pending item counter
func TestLen(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Abort()

	for i := 0; i < 3; i++ {
		v := i
		q.Push(&v)
	}
	if got := q.Len(); got != 3 {
		t.Errorf("Expected Len 3, got %d", got)
	}

	<-q.Recv()
	deadline := time.Now().Add(time.Second)
	for q.Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected Len 2 after one receive, got %d", q.Len())
		}
		runtime.Gosched()
	}
}

// TestSelectStatement tests the queue in a select statement
func TestSelectStatement(t *testing.T) {
	q := NewLockFreeMPSC[string]()
	defer q.Close()

	otherChan := make(chan int, 1)
	otherChan <- 42

	select {
	case val := <-q.Recv():
		t.Errorf("Should not receive from empty queue, got %v", *val)
	case <-otherChan:
	default:
		t.Error("select defaulted, should have received from otherChan")
	}

	val := "test"
	q.Push(&val)

	select {
	case got := <-q.Recv():
		if *got != "test" {
			t.Errorf("Expected 'test', got %v", *got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for item from queue")
	}
}

// TestOrderingSingleProducer tests that a single producer keeps FIFO order
func TestOrderingSingleProducer(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			v := i
			q.Push(&v)
		}
	}()

	for i := 0; i < itemCount; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Fatalf("Expected item %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
}

// BenchmarkSingleProducer benchmarks the queue with a single producer
func BenchmarkSingleProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := i
		q.Push(&v)
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			v := i
			q.Push(&v)
			i++
		}
	})
}
