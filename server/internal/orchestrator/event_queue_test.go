package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/pslog"
)

func quietLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
}

func TestEventQueue_SerialProcessing(t *testing.T) {
	var processed []string
	var mu sync.Mutex

	eq := NewEventQueue(0, quietLogger())
	defer eq.Close()

	names := []string{"task1", "task2", "task3", "task4", "task5"}
	for _, name := range names {
		name := name
		err := eq.Enqueue(context.Background(), name, func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			processed = append(processed, name)
			time.Sleep(5 * time.Millisecond) // 模拟处理时间
			return nil
		})
		if err != nil {
			t.Fatalf("Failed to enqueue task: %v", err)
		}
	}

	// 同步任务排在最后，返回时前面的任务都已执行完
	if err := eq.Do(context.Background(), "barrier", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("barrier: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != len(names) {
		t.Fatalf("Expected %d processed tasks, got %d", len(names), len(processed))
	}
	for i, name := range names {
		if processed[i] != name {
			t.Fatalf("Task order mismatch at index %d: expected %s, got %s", i, name, processed[i])
		}
	}
}

// TestEventQueue_NoConcurrentExecution 验证并发入队时任务之间从不重叠执行。
func TestEventQueue_NoConcurrentExecution(t *testing.T) {
	eq := NewEventQueue(0, quietLogger())
	defer eq.Close()

	var running, overlaps, count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = eq.Enqueue(context.Background(), "test", func(ctx context.Context) error {
					if atomic.AddInt64(&running, 1) > 1 {
						atomic.AddInt64(&overlaps, 1)
					}
					atomic.AddInt64(&count, 1)
					atomic.AddInt64(&running, -1)
					return nil
				})
			}
		}()
	}
	wg.Wait()
	_ = eq.Do(context.Background(), "barrier", func(ctx context.Context) error { return nil })

	if got := atomic.LoadInt64(&count); got != 100 {
		t.Fatalf("Expected 100 processed tasks, got %d", got)
	}
	if overlaps != 0 {
		t.Fatalf("Expected no overlapping tasks, got %d", overlaps)
	}
}

// TestEventQueue_EnqueueBlocksUntilContextDone 验证队列满时 Enqueue 阻塞并响应 ctx 取消。
func TestEventQueue_EnqueueBlocksUntilContextDone(t *testing.T) {
	eq := NewEventQueue(1, quietLogger())
	defer eq.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_ = eq.Enqueue(context.Background(), "block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	_ = eq.Enqueue(context.Background(), "fill", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := eq.Enqueue(ctx, "overflow", func(ctx context.Context) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if stats := eq.Stats(); stats.Dropped != 1 || stats.Capacity != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEventQueue_ErrorHandling(t *testing.T) {
	testError := errors.New("test error")
	eq := NewEventQueue(0, quietLogger())
	defer eq.Close()

	_ = eq.Enqueue(context.Background(), "normal", func(ctx context.Context) error { return nil })
	if err := eq.Do(context.Background(), "error", func(ctx context.Context) error { return testError }); !errors.Is(err, testError) {
		t.Fatalf("expected task error, got %v", err)
	}
	_ = eq.Do(context.Background(), "normal", func(ctx context.Context) error { return nil })

	// 即使有错误，所有任务都应该被处理
	stats := eq.Stats()
	if stats.Processed != 3 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEventQueue_DoTimeout(t *testing.T) {
	eq := NewEventQueue(0, quietLogger())
	defer eq.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := eq.Do(ctx, "slow", func(taskCtx context.Context) error {
		<-taskCtx.Done()
		return taskCtx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestEventQueue_CloseRejectsNewTasks(t *testing.T) {
	eq := NewEventQueue(0, quietLogger())
	if err := eq.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = eq.Close()

	if err := eq.Enqueue(context.Background(), "late", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := eq.Do(context.Background(), "late", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func BenchmarkEventQueue_Enqueue(b *testing.B) {
	eq := NewEventQueue(0, quietLogger())
	defer eq.Close()

	task := func(ctx context.Context) error { return nil }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eq.Enqueue(context.Background(), "test", task)
	}
}
