package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"drawsync/server/internal/logx"
	"drawsync/server/internal/model"
	"drawsync/server/internal/timeline"

	"pkt.systems/pslog"
)

var (
	// ErrSlowSubscriber 表示订阅者的缓冲区已满，被断开以免静默丢事件。
	ErrSlowSubscriber = errors.New("subscriber fell behind")
	// ErrClosed 表示事件日志已关闭。
	ErrClosed = errors.New("event log closed")
)

const defaultBuffer = 256

// Log 把存储的追加与推送串行化：推送严格按 seq 递增离开服务端。
type Log struct {
	store  timeline.Store
	logger pslog.Logger
	buffer int
	now    func() time.Time

	mu     sync.Mutex
	head   int64
	loaded bool
	closed bool
	nextID uint64
	subs   map[uint64]*Subscription
}

type Option func(*Log)

// WithLogger 指定日志器；未指定时从调用方的 context 取。
func WithLogger(logger pslog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithBuffer 设置每个订阅者的推送缓冲大小。
func WithBuffer(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.buffer = n
		}
	}
}

func New(store timeline.Store, opts ...Option) *Log {
	l := &Log{
		store:  store,
		buffer: defaultBuffer,
		now:    time.Now,
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) log(ctx context.Context) pslog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return logx.Ctx(ctx)
}

// Append 写入存储并把带 seq 的事件推送给所有订阅者。
// 相同 EventID 的重复追加返回原 seq，不会再次推送。
func (l *Log) Append(ctx context.Context, evt model.DrawEvent) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	if err := l.loadHeadLocked(ctx); err != nil {
		return 0, err
	}

	evt = evt.Clone()
	evt.Seq = 0
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = l.now().UTC()
	}
	seq, err := l.store.Append(ctx, &evt)
	if err != nil {
		return 0, err
	}
	log := logx.WithSeq(l.log(ctx), seq)
	if seq <= l.head {
		log.Debug("duplicate append ignored", "event_id", evt.EventID)
		return seq, nil
	}
	l.head = seq
	evt.Seq = seq
	l.publishLocked(log, evt)
	log.Debug("event appended", "kind", evt.Kind, "subscribers", len(l.subs))
	return seq, nil
}

// List 返回当前一致快照。
func (l *Log) List(ctx context.Context) ([]model.DrawEvent, error) {
	return l.store.List(ctx)
}

// Head 返回最近一次分配的 seq。
func (l *Log) Head(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadHeadLocked(ctx); err != nil {
		return 0, err
	}
	return l.head, nil
}

// Subscribe 原子地返回 seq > after 的积压事件并登记订阅，积压与后续推送之间没有缺口也不重叠。
func (l *Log) Subscribe(ctx context.Context, after int64) ([]model.DrawEvent, *Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.readyLocked(ctx); err != nil {
		return nil, nil, err
	}
	backlog, err := l.store.ListAfter(ctx, after)
	if err != nil {
		return nil, nil, fmt.Errorf("catch up after %d: %w", after, err)
	}
	sub := l.addLocked()
	l.log(ctx).Debug("subscriber added", "after", after, "backlog", len(backlog), "subscribers", len(l.subs))
	return backlog, sub, nil
}

// SubscribeLive 登记一个只接收之后事件的订阅，并原子地返回登记时的 head。
func (l *Log) SubscribeLive(ctx context.Context) (int64, *Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.readyLocked(ctx); err != nil {
		return 0, nil, err
	}
	sub := l.addLocked()
	l.log(ctx).Debug("subscriber added", "head", l.head, "subscribers", len(l.subs))
	return l.head, sub, nil
}

func (l *Log) readyLocked(ctx context.Context) error {
	if l.closed {
		return ErrClosed
	}
	return l.loadHeadLocked(ctx)
}

func (l *Log) addLocked() *Subscription {
	l.nextID++
	sub := &Subscription{
		id:  l.nextID,
		log: l,
		ch:  make(chan model.DrawEvent, l.buffer),
	}
	l.subs[sub.id] = sub
	return sub
}

// Close 断开全部订阅者，之后的 Append/Subscribe 返回 ErrClosed。
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, sub := range l.subs {
		delete(l.subs, id)
		sub.terminate(ErrClosed)
	}
}

func (l *Log) publishLocked(log pslog.Logger, evt model.DrawEvent) {
	for id, sub := range l.subs {
		select {
		case sub.ch <- evt.Clone():
		default:
			delete(l.subs, id)
			sub.terminate(ErrSlowSubscriber)
			log.Warn("subscriber disconnected", "subscriber", id, "reason", ErrSlowSubscriber.Error())
		}
	}
}

func (l *Log) loadHeadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	events, err := l.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load log head: %w", err)
	}
	if n := len(events); n > 0 {
		l.head = events[n-1].Seq
	}
	l.loaded = true
	return nil
}

// Subscription 是服务端的一个推送订阅。C 在订阅终止时关闭，Err 给出原因。
type Subscription struct {
	id  uint64
	log *Log
	ch  chan model.DrawEvent

	once sync.Once
	mu   sync.Mutex
	err  error
}

// C 返回按 seq 递增推送的事件通道。
func (s *Subscription) C() <-chan model.DrawEvent {
	return s.ch
}

// Err 返回订阅终止原因；主动 Close 或仍在运行时为 nil。
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close 取消订阅，可重复调用。
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	delete(s.log.subs, s.id)
	s.terminate(nil)
}

// terminate 只能在持有 Log.mu 时调用，保证不会与推送并发关闭通道。
func (s *Subscription) terminate(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}
