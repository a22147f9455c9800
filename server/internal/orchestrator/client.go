package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"drawsync/server/internal/bridge"
	"drawsync/server/internal/feed"
	"drawsync/server/internal/logx"
	"drawsync/server/internal/model"
	"drawsync/server/internal/replay"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"
)

// LogClient 是事件日志的追加与全量读取。
type LogClient interface {
	Append(ctx context.Context, evt model.DrawEvent) (int64, error)
	FetchAll(ctx context.Context) ([]model.DrawEvent, error)
}

// Subscriber 建立实时推送订阅。
type Subscriber interface {
	Subscribe(ctx context.Context, onEvent func(model.DrawEvent), opts ...feed.Option) (*feed.Handle, error)
}

// NoticeKind 标识一条非致命提示。
type NoticeKind string

const (
	NoticeAppended         NoticeKind = "appended"
	NoticeInvalidEvent     NoticeKind = "invalid_event"
	NoticeAppendFailed     NoticeKind = "append_failed"
	NoticeFeedDisconnected NoticeKind = "feed_disconnected"
	NoticeResynced         NoticeKind = "resynced"
	NoticeResyncFailed     NoticeKind = "resync_failed"
)

// Notice 是客户端向界面层报告的非致命事件，核心流程中没有致命错误。
type Notice struct {
	Kind    NoticeKind
	EventID string
	// Seq 只在 NoticeAppended 中有值。
	Seq int64
	Err error
}

type Options struct {
	// ClientID 为空时生成一个 UUID，只用于日志。
	ClientID      string
	QueueSize     int
	AppendTimeout time.Duration
	FeedOptions   []feed.Option
	Logger        pslog.Logger
}

// Status 是客户端状态的只读快照。
type Status struct {
	Last     int64
	Pending  int
	Unsynced int
	Queue    Stats
}

// Client 是一个绘图客户端：输入手势、订阅推送、追加结果都汇入同一个事件队列，
// 回放引擎与画布只在队列线程上被访问。
type Client struct {
	id            string
	log           LogClient
	sub           Subscriber
	engine        *replay.Engine
	bridge        *bridge.Bridge
	queue         *EventQueue
	logger        pslog.Logger
	appendTimeout time.Duration
	feedOptions   []feed.Option
	notices       chan Notice

	runCtx context.Context
	cancel context.CancelFunc
	// appends 跟踪进行中的追加请求
	appends sync.WaitGroup

	mu     sync.Mutex
	handle *feed.Handle

	// catchingUp 只在队列线程上读写
	catchingUp bool
	closeOnce  sync.Once
}

func New(log LogClient, sub Subscriber, surface replay.Surface, opts Options) *Client {
	id := opts.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	logger = logger.With("client", id)
	appendTimeout := opts.AppendTimeout
	if appendTimeout <= 0 {
		appendTimeout = 10 * time.Second
	}

	engine := replay.New(surface)
	runCtx, cancel := context.WithCancel(pslog.ContextWithLogger(context.Background(), logger))
	return &Client{
		id:            id,
		log:           log,
		sub:           sub,
		engine:        engine,
		bridge:        bridge.New(engine),
		queue:         NewEventQueue(opts.QueueSize, logger),
		logger:        logger,
		appendTimeout: appendTimeout,
		feedOptions:   opts.FeedOptions,
		notices:       make(chan Notice, 64),
		runCtx:        runCtx,
		cancel:        cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

// Notices 返回非致命提示的通道；来不及消费的提示会被丢弃并记录日志。
func (c *Client) Notices() <-chan Notice {
	return c.notices
}

// Join 并发地建立订阅与全量拉取。先到的实时推送由引擎缓冲，
// 重复丢弃规则负责对齐两条来源的重叠部分。
func (c *Client) Join(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.subscribe()
	})
	g.Go(func() error {
		return c.loadSnapshot(gctx, "join")
	})
	if err := g.Wait(); err != nil {
		c.unsubscribe()
		return fmt.Errorf("join: %w", err)
	}
	if err := c.alignWithFeed(ctx); err != nil {
		c.unsubscribe()
		return fmt.Errorf("join: %w", err)
	}
	c.logger.Info("joined")
	return nil
}

// alignWithFeed 在订阅登记时的 head 超出快照时再拉一次：
// 快照与订阅并发建立，两者之间追加的事件只有这次拉取能补上。
func (c *Client) alignWithFeed(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	var behind bool
	if err := c.queue.Do(ctx, "align", func(context.Context) error {
		behind = c.engine.Last() < h.Last()
		return nil
	}); err != nil {
		return err
	}
	if !behind {
		return nil
	}
	return c.loadSnapshot(ctx, "align")
}

// Resync 丢弃本地画布（包括未同步的预览像素），从头重放全量快照。
// 快照到达前的实时推送会被缓冲，不会丢失。
func (c *Client) Resync(ctx context.Context) error {
	if err := c.queue.Do(ctx, "reset", func(context.Context) error {
		c.engine.Reset()
		return nil
	}); err != nil {
		return err
	}
	if err := c.loadSnapshot(ctx, "resync"); err != nil {
		c.notify(Notice{Kind: NoticeResyncFailed, Err: err})
		return err
	}
	c.notify(Notice{Kind: NoticeResynced})
	return nil
}

// SetPen 设置后续手势的工具与样式。
func (c *Client) SetPen(p bridge.Pen) error {
	return c.queue.Enqueue(c.runCtx, "set-pen", func(context.Context) error {
		c.bridge.SetPen(p)
		return nil
	})
}

// BeginStroke 开始一个手势。
func (c *Client) BeginStroke(p model.Point) error {
	return c.queue.Enqueue(c.runCtx, "begin", func(context.Context) error {
		c.bridge.Begin(p)
		return nil
	})
}

// ExtendStroke 追加一个点并立即在本地画出最新一段。
func (c *Client) ExtendStroke(p model.Point) error {
	return c.queue.Enqueue(c.runCtx, "extend", func(context.Context) error {
		c.bridge.Extend(p)
		return nil
	})
}

// EndStroke 结束手势并异步追加，返回事件的 EventID；不等待追加与绘制。
// 没有进行中的手势时返回空 EventID；校验失败的事件不提交，返回包装了 codec.ErrInvalidEvent 的错误。
func (c *Client) EndStroke() (string, error) {
	var eventID string
	err := c.queue.Do(c.runCtx, "end", func(context.Context) error {
		evt, err := c.bridge.End()
		if err != nil {
			if errors.Is(err, bridge.ErrNoGesture) {
				return nil
			}
			c.logger.Warn("invalid stroke dropped", "err", err)
			c.notify(Notice{Kind: NoticeInvalidEvent, Err: err})
			return err
		}
		eventID = evt.EventID
		c.submit(evt)
		return nil
	})
	return eventID, err
}

// Clear 追加一个 clear 事件并返回其 EventID。本地画布在 clear 经由日志回来时才被清空。
func (c *Client) Clear() (string, error) {
	var eventID string
	err := c.queue.Do(c.runCtx, "clear", func(context.Context) error {
		evt := c.bridge.Clear()
		eventID = evt.EventID
		c.submit(evt)
		return nil
	})
	return eventID, err
}

// RetryUnsynced 用原 EventID 重新提交所有追加失败的事件，存储按 EventID 幂等。
// 被存储拒绝（4xx）的事件不会再成功，直接丢弃并发出 InvalidEvent 提示。
func (c *Client) RetryUnsynced(ctx context.Context) error {
	var pending []model.DrawEvent
	if err := c.queue.Do(ctx, "list-unsynced", func(context.Context) error {
		pending = c.bridge.Unsynced()
		return nil
	}); err != nil {
		return err
	}

	var errs []error
	for _, evt := range pending {
		seq, err := c.log.Append(ctx, evt)
		eventID := evt.EventID
		if err != nil {
			if !rejected(err) {
				errs = append(errs, err)
				continue
			}
			c.logger.Warn("unsynced event rejected", "event_id", eventID, "err", err)
			c.notify(Notice{Kind: NoticeInvalidEvent, EventID: eventID, Err: err})
		} else {
			logx.WithSeq(c.logger, seq).Info("unsynced event accepted", "event_id", eventID)
		}
		_ = c.queue.Enqueue(ctx, "forget-unsynced", func(context.Context) error {
			c.bridge.Forget(eventID)
			return nil
		})
	}
	return errors.Join(errs...)
}

// Status 返回当前状态。
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.queue.Do(ctx, "status", func(context.Context) error {
		st = Status{
			Last:     c.engine.Last(),
			Pending:  c.engine.Pending(),
			Unsynced: len(c.bridge.Unsynced()),
		}
		return nil
	})
	st.Queue = c.queue.Stats()
	return st, err
}

// View 在队列线程上执行 fn，fn 内可以安全读取画布。
func (c *Client) View(ctx context.Context, fn func() error) error {
	return c.queue.Do(ctx, "view", func(context.Context) error {
		return fn()
	})
}

// Close 取消订阅、放弃进行中的追加并停止队列。可重复调用。
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.cancel()
		_ = c.queue.Close()
		c.appends.Wait()
		c.logger.Info("client closed")
	})
	return nil
}

func (c *Client) subscribe() error {
	opts := append([]feed.Option{
		feed.WithLogger(c.logger),
		feed.OnDisconnect(c.onDisconnect),
		feed.OnReconnect(c.onReconnect),
	}, c.feedOptions...)
	h, err := c.sub.Subscribe(c.runCtx, c.onPush, opts...)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	return nil
}

func (c *Client) unsubscribe() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	if h != nil {
		h.Unsubscribe()
	}
}

// onPush 在订阅的读循环中调用；入队阻塞时反压到推送连接。
func (c *Client) onPush(evt model.DrawEvent) {
	err := c.queue.Enqueue(c.runCtx, "push", func(context.Context) error {
		res := c.engine.Apply(evt)
		logx.WithSeq(c.logger, evt.Seq).Trace("push handled", "result", res.String())
		c.catchUpIfGap()
		return nil
	})
	if err != nil && c.runCtx.Err() == nil {
		c.logger.Warn("push dropped", "seq", evt.Seq, "err", err)
	}
}

func (c *Client) onDisconnect(err error) {
	c.notify(Notice{Kind: NoticeFeedDisconnected, Err: err})
}

// onReconnect 在订阅恢复后整体重放，断线期间的推送可能缺失或重复。
func (c *Client) onReconnect() {
	go func() {
		if err := c.Resync(c.runCtx); err != nil && c.runCtx.Err() == nil {
			c.logger.Error("resync after reconnect failed", "err", err)
		}
	}()
}

// loadSnapshot 拉取全量快照并作为一个整体任务交给引擎。
func (c *Client) loadSnapshot(ctx context.Context, reason string) error {
	events, err := c.log.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch all: %w", err)
	}
	return c.queue.Enqueue(ctx, "snapshot", func(context.Context) error {
		applied := c.engine.ApplyAll(events)
		c.logger.Debug("snapshot applied", "reason", reason, "events", len(events), "applied", applied, "last", c.engine.Last())
		return nil
	})
}

// catchUpIfGap 只在队列线程上调用：引擎缺 seq 时补拉一次快照。
func (c *Client) catchUpIfGap() {
	if !c.engine.Gap() || c.catchingUp {
		return
	}
	c.catchingUp = true
	go func() {
		err := c.loadSnapshot(c.runCtx, "gap")
		_ = c.queue.Enqueue(c.runCtx, "catch-up-done", func(context.Context) error {
			c.catchingUp = false
			return nil
		})
		if err != nil && c.runCtx.Err() == nil {
			c.logger.Warn("catch-up failed", "err", err)
		}
	}()
}

// submit 只在队列线程上调用：在独立 goroutine 中追加，结果作为任务回到队列。
func (c *Client) submit(evt model.DrawEvent) {
	c.appends.Add(1)
	go func() {
		defer c.appends.Done()
		ctx, cancel := context.WithTimeout(c.runCtx, c.appendTimeout)
		seq, err := c.log.Append(ctx, evt)
		cancel()

		_ = c.queue.Enqueue(c.runCtx, "append-result", func(context.Context) error {
			if err == nil {
				logx.WithSeq(c.logger, seq).Debug("event appended", "event_id", evt.EventID, "kind", evt.Kind)
				c.notify(Notice{Kind: NoticeAppended, EventID: evt.EventID, Seq: seq})
				return nil
			}
			switch {
			case rejected(err):
				c.logger.Warn("append rejected", "event_id", evt.EventID, "kind", evt.Kind, "err", err)
				c.notify(Notice{Kind: NoticeInvalidEvent, EventID: evt.EventID, Err: err})
			case evt.Kind == model.KindClear:
				// 迟到的 clear 会抹掉期间其他人追加的笔画，因此不保留重试。
				c.logger.Warn("clear append failed", "event_id", evt.EventID, "err", err)
				c.notify(Notice{Kind: NoticeAppendFailed, EventID: evt.EventID, Err: err})
			default:
				c.bridge.MarkUnsynced(evt)
				c.logger.Warn("append failed", "event_id", evt.EventID, "kind", evt.Kind, "err", err)
				c.notify(Notice{Kind: NoticeAppendFailed, EventID: evt.EventID, Err: err})
			}
			return err
		})
	}()
}

// rejected 报告追加错误是否为存储的明确拒绝，这类事件重试也不会成功。
func rejected(err error) bool {
	var r interface{ Rejected() bool }
	return errors.As(err, &r) && r.Rejected()
}

func (c *Client) notify(n Notice) {
	select {
	case c.notices <- n:
	default:
		// 没人消费时追加成功的提示会持续堆积，只在调试级别记录。
		if n.Kind == NoticeAppended {
			c.logger.Debug("notice dropped", "kind", string(n.Kind))
			return
		}
		c.logger.Warn("notice dropped", "kind", string(n.Kind))
	}
}
