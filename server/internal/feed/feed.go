package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"drawsync/server/internal/codec"
	"drawsync/server/internal/logx"
	"drawsync/server/internal/model"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"
)

// ErrFeedDisconnected 表示推送连接中断；重连后的推送可能与断开前重叠或有缺口，
// 订阅方应重新同步后再信任后续推送。
var ErrFeedDisconnected = errors.New("feed disconnected")

type options struct {
	onDisconnect func(error)
	onReconnect  func()
	after        int64
	hasAfter     bool
	backoffMin   time.Duration
	backoffMax   time.Duration
	dialer       *websocket.Dialer
	logger       pslog.Logger
}

type Option func(*options)

// OnDisconnect 在每次连接中断时被调用，参数包装了 ErrFeedDisconnected。
func OnDisconnect(fn func(error)) Option {
	return func(o *options) {
		o.onDisconnect = fn
	}
}

// OnReconnect 在断线后重新建立连接时被调用。
func OnReconnect(fn func()) Option {
	return func(o *options) {
		o.onReconnect = fn
	}
}

// After 指定起始位置：先补发 seq > after 的积压再推送实时事件。
// 不指定时订阅从现在开始，只推送登记之后追加的事件。
func After(seq int64) Option {
	return func(o *options) {
		o.after = seq
		o.hasAfter = true
	}
}

// WithBackoff 设置重连的指数退避窗口。
func WithBackoff(min, max time.Duration) Option {
	return func(o *options) {
		if min > 0 {
			o.backoffMin = min
		}
		if max >= o.backoffMin {
			o.backoffMax = max
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func WithLogger(logger pslog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Client 订阅事件日志服务的实时推送。
type Client struct {
	BaseURL string
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Subscribe 建立推送连接，每个推送事件调用一次 onEvent，推送之间按 seq 递增。
// 默认从现在开始推送；推送至少一次：断线重连会从最后交付的 seq（或登记时的 head）之后续传，可能重复交付。
// 首次连接失败直接返回错误；之后的断线由后台重连处理。
func (c *Client) Subscribe(ctx context.Context, onEvent func(model.DrawEvent), opts ...Option) (*Handle, error) {
	o := options{
		backoffMin: 200 * time.Millisecond,
		backoffMax: 10 * time.Second,
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logx.Ctx(ctx)
	}

	base, err := streamURL(c.BaseURL)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		base:    base,
		opts:    o,
		onEvent: onEvent,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.last.Store(o.after)
	h.resume.Store(o.hasAfter)

	conn, err := h.dial(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	go h.run(runCtx, conn)
	return h, nil
}

// Handle 是一个活跃的订阅。
type Handle struct {
	base    *url.URL
	opts    options
	onEvent func(model.DrawEvent)
	cancel  context.CancelFunc

	last atomic.Int64
	// resume 为真时连接携带 after=last；首次连接成功后总是为真。
	resume  atomic.Bool
	stopped atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn

	once sync.Once
	done chan struct{}
}

// Unsubscribe 停止推送并释放连接，可重复调用。返回后不会再开始新的 onEvent 回调。
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		h.stopped.Store(true)
		h.cancel()
		h.mu.Lock()
		if h.conn != nil {
			_ = h.conn.Close()
		}
		h.mu.Unlock()
	})
}

// Done 在后台连接循环退出后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Last 返回最后交付的 seq；从现在开始的订阅在连接后至少为登记时的 head。
func (h *Handle) Last() int64 {
	return h.last.Load()
}

func (h *Handle) dial(ctx context.Context) (*websocket.Conn, error) {
	u := *h.base
	if h.resume.Load() {
		q := u.Query()
		q.Set("after", strconv.FormatInt(h.last.Load(), 10))
		u.RawQuery = q.Encode()
	}

	conn, resp, err := h.opts.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped.Load() {
		_ = conn.Close()
		return nil, context.Canceled
	}
	if !h.resume.Load() {
		if head, err := strconv.ParseInt(resp.Header.Get(model.HeadHeader), 10, 64); err == nil && head > h.last.Load() {
			h.last.Store(head)
		}
		h.resume.Store(true)
	}
	h.conn = conn
	return conn, nil
}

func (h *Handle) run(ctx context.Context, conn *websocket.Conn) {
	defer close(h.done)
	log := h.opts.logger

	for {
		err := h.readLoop(conn)
		_ = conn.Close()
		if h.stopped.Load() || ctx.Err() != nil {
			return
		}

		log.Warn("feed disconnected", "last", h.last.Load(), "err", err)
		if h.opts.onDisconnect != nil {
			h.opts.onDisconnect(fmt.Errorf("%w: %v", ErrFeedDisconnected, err))
		}

		conn = h.reconnect(ctx)
		if conn == nil {
			return
		}
		log.Info("feed reconnected", "after", h.last.Load())
		if h.opts.onReconnect != nil && !h.stopped.Load() {
			h.opts.onReconnect()
		}
	}
}

func (h *Handle) reconnect(ctx context.Context) *websocket.Conn {
	delay := h.opts.backoffMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := h.dial(ctx)
		if err == nil {
			return conn
		}
		if h.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		h.opts.logger.Debug("feed reconnect failed", "retry_in", delay, "err", err)
		delay *= 2
		if delay > h.opts.backoffMax {
			delay = h.opts.backoffMax
		}
	}
}

func (h *Handle) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := codec.DecodeStored(data)
		if err != nil {
			// 无法解码的推送不交付，回放引擎会把它当作缺口并触发补拉。
			h.opts.logger.Error("drop undecodable push", "err", err)
			continue
		}
		if h.stopped.Load() {
			return nil
		}
		if evt.Seq > h.last.Load() {
			h.last.Store(evt.Seq)
		}
		h.onEvent(evt)
	}
}

func streamURL(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/events/stream"
	return u, nil
}
