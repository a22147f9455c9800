package replay

import (
	"sort"

	"drawsync/server/internal/model"
)

// Surface 是回放引擎驱动的绘制目标。实现必须是确定性的：
// 同样的调用序列得到同样的像素。
type Surface interface {
	// Clear 把整个画布重置为空白（与橡皮擦同色）。
	Clear()
	// Polyline 按顺序连接 points，圆头圆角；少于 2 个点时不产生痕迹。
	Polyline(points []model.Point, style model.Style)
}

// Result 描述 Apply 对一个事件的处理结果。
type Result int

const (
	// Applied 表示事件（以及因此补齐的后继事件）已经绘制。
	Applied Result = iota
	// Duplicate 表示事件的 seq 不大于 last 或已在缓冲中，被丢弃。
	Duplicate
	// Buffered 表示事件在等待更早的 seq，暂存。
	Buffered
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Buffered:
		return "buffered"
	default:
		return "unknown"
	}
}

// Engine 是画布的唯一所有者：画布是事件日志按 seq 顺序的确定性投影。
// Engine 不是并发安全的，调用方需保证单线程访问。
type Engine struct {
	surface Surface
	last    int64
	pending map[int64]model.DrawEvent
}

// New 返回初始状态的引擎：last 为 0（存储的 seq 从 1 开始），画布为空白。
func New(surface Surface) *Engine {
	e := &Engine{surface: surface}
	e.Reset()
	return e
}

// Last 返回最后一个已绘制事件的 seq，0 表示尚未绘制任何事件。
func (e *Engine) Last() int64 {
	return e.last
}

// Pending 返回缓冲中等待前驱的事件数。
func (e *Engine) Pending() int {
	return len(e.pending)
}

// Gap 报告是否有事件在等待缺失的 seq，调用方应补拉全量快照。
func (e *Engine) Gap() bool {
	return len(e.pending) > 0
}

// Reset 清空画布并回到初始状态，用于从头重放。
func (e *Engine) Reset() {
	e.last = 0
	e.pending = make(map[int64]model.DrawEvent)
	e.surface.Clear()
}

// Apply 处理一条实时推送：按 seq 而不是到达顺序绘制。
// seq == last+1 时立即绘制并补齐缓冲中的后继；更大的 seq 暂存。
func (e *Engine) Apply(evt model.DrawEvent) Result {
	if evt.Seq <= e.last {
		return Duplicate
	}
	if _, ok := e.pending[evt.Seq]; ok {
		return Duplicate
	}
	if evt.Seq != e.last+1 {
		e.pending[evt.Seq] = evt.Clone()
		return Buffered
	}
	e.step(evt)
	e.drain()
	return Applied
}

// ApplyAll 处理一次全量快照。快照是日志的完整前缀，因此按 seq 顺序绘制并接受其中的空洞；
// 之后补齐缓冲中的实时事件。返回实际绘制的快照事件数。
func (e *Engine) ApplyAll(events []model.DrawEvent) int {
	ordered := make([]model.DrawEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	applied := 0
	for _, evt := range ordered {
		if evt.Seq <= e.last {
			continue
		}
		e.step(evt)
		applied++
	}
	e.drain()
	return applied
}

// Preview 绘制一段尚未提交的本地线段，只供本地渲染桥接使用。
func (e *Engine) Preview(a, b model.Point, tool model.Tool, color string, width float64) {
	e.surface.Polyline([]model.Point{a, b}, styleFor(tool, color, width))
}

func (e *Engine) step(evt model.DrawEvent) {
	switch evt.Kind {
	case model.KindClear:
		e.surface.Clear()
	case model.KindStroke:
		if len(evt.Points) >= 2 {
			e.surface.Polyline(evt.Points, styleFor(evt.Tool, evt.Color, evt.Width))
		}
	}
	e.last = evt.Seq
}

func (e *Engine) drain() {
	for seq := range e.pending {
		if seq <= e.last {
			delete(e.pending, seq)
		}
	}
	for {
		next, ok := e.pending[e.last+1]
		if !ok {
			return
		}
		delete(e.pending, next.Seq)
		e.step(next)
	}
}

func styleFor(tool model.Tool, color string, width float64) model.Style {
	if tool == model.ToolEraser {
		color = model.EraseColor
	}
	return model.Style{Color: color, Width: width}
}
