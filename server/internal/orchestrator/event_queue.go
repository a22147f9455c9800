package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"
)

var ErrQueueClosed = errors.New("event queue closed")

// Task 是在队列线程上执行的一段工作。Task 内部不能再同步等待同一个队列。
type Task func(ctx context.Context) error

// EventQueue 为单个客户端提供串行处理（Actor Model）：
// 回放引擎、本地渲染桥接与画布只在这个线程上被访问，
// 输入回调、订阅回调与追加结果都只是入队。
type EventQueue struct {
	tasks  chan *queuedTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger pslog.Logger

	// 统计信息
	mu             sync.Mutex
	totalTasks     int64
	processedTasks int64
	failedTasks    int64
	droppedTasks   int64
}

type queuedTask struct {
	name      string
	run       Task
	timestamp time.Time
	resultCh  chan error // 用于同步等待结果（可选）
}

// Stats 是队列的统计快照。
type Stats struct {
	Total     int64
	Processed int64
	Failed    int64
	Dropped   int64
	Pending   int
	Capacity  int
}

const (
	defaultQueueCapacity = 256
	// 单个任务的处理超时
	defaultTaskTimeout = 30 * time.Second
	slowTaskThreshold  = time.Second
)

// NewEventQueue 创建队列并启动单线程处理器。
func NewEventQueue(capacity int, logger pslog.Logger) *EventQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	eq := &EventQueue{
		tasks:  make(chan *queuedTask, capacity),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	eq.wg.Add(1)
	go eq.processLoop()
	return eq
}

// Enqueue 入队，队列满时阻塞直到有空位、ctx 取消或队列关闭。
// 阻塞会沿调用方反压，例如让订阅停止读取。
func (eq *EventQueue) Enqueue(ctx context.Context, name string, run Task) error {
	return eq.enqueue(ctx, &queuedTask{name: name, run: run, timestamp: time.Now()})
}

// Do 入队并等待任务执行完毕，返回任务的错误。
func (eq *EventQueue) Do(ctx context.Context, name string, run Task) error {
	task := &queuedTask{name: name, run: run, timestamp: time.Now(), resultCh: make(chan error, 1)}
	if err := eq.enqueue(ctx, task); err != nil {
		return err
	}
	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}
}

func (eq *EventQueue) enqueue(ctx context.Context, task *queuedTask) error {
	if eq.ctx.Err() != nil {
		eq.countDropped()
		return ErrQueueClosed
	}
	select {
	case eq.tasks <- task:
		eq.countEnqueued()
		return nil
	case <-ctx.Done():
		eq.countDropped()
		return ctx.Err()
	case <-eq.ctx.Done():
		eq.countDropped()
		return ErrQueueClosed
	}
}

// countDropped 统计没能入队的任务：调用方放弃等待或队列已关闭。
func (eq *EventQueue) countDropped() {
	eq.mu.Lock()
	eq.droppedTasks++
	eq.mu.Unlock()
}

func (eq *EventQueue) countEnqueued() {
	eq.mu.Lock()
	eq.totalTasks++
	eq.mu.Unlock()
}

// processLoop 串行处理任务（单线程）
func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()
	for {
		select {
		case <-eq.ctx.Done():
			return
		case task := <-eq.tasks:
			eq.process(task)
		}
	}
}

func (eq *EventQueue) process(task *queuedTask) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(eq.ctx, defaultTaskTimeout)
	defer cancel()

	err := task.run(ctx)
	elapsed := time.Since(start)

	eq.mu.Lock()
	eq.processedTasks++
	if err != nil {
		eq.failedTasks++
	}
	eq.mu.Unlock()

	if err != nil {
		eq.logger.Debug("task failed", "task", task.name, "err", err, "elapsed", elapsed)
	}
	if elapsed > slowTaskThreshold {
		eq.logger.Warn("slow task", "task", task.name, "elapsed", elapsed, "queue_latency", start.Sub(task.timestamp))
	}

	if task.resultCh != nil {
		task.resultCh <- err
	}
}

// Close 停止处理器，尚未执行的任务整体放弃。可重复调用。
func (eq *EventQueue) Close() error {
	eq.cancel()
	eq.wg.Wait()

	stats := eq.Stats()
	eq.logger.Debug("event queue closed",
		"total", stats.Total,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"pending", stats.Pending,
	)
	return nil
}

// Stats 获取队列统计信息
func (eq *EventQueue) Stats() Stats {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return Stats{
		Total:     eq.totalTasks,
		Processed: eq.processedTasks,
		Failed:    eq.failedTasks,
		Dropped:   eq.droppedTasks,
		Pending:   len(eq.tasks),
		Capacity:  cap(eq.tasks),
	}
}
