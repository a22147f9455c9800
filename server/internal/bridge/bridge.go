package bridge

import (
	"errors"
	"fmt"

	"drawsync/server/internal/codec"
	"drawsync/server/internal/geometry"
	"drawsync/server/internal/model"
	"drawsync/server/internal/replay"

	"github.com/google/uuid"
)

// ErrNoGesture 表示在没有活跃手势时结束手势。
var ErrNoGesture = errors.New("no active gesture")

// Pen 是当前的绘制工具与样式。
type Pen struct {
	Tool  model.Tool
	Color string
	Width float64
}

// DefaultPen 是 5px 黑色画笔。
var DefaultPen = Pen{Tool: model.ToolBrush, Color: "#000000", Width: 5}

// Bridge 在手势进行中把每一段新线段立即画到本地画布，手势结束时编码为事件。
// 事件经由订阅回到本地时会被引擎再画一遍，这次重画是预期行为，不做抑制。
// Bridge 与 Engine 一样只能在单一线程中使用。
type Bridge struct {
	engine *replay.Engine
	buffer geometry.Buffer
	pen    Pen
	// gesturePen 在 Begin 时固定，手势中途换笔不影响当前笔画。
	gesturePen Pen
	newID      func() string

	unsynced []model.DrawEvent
}

func New(engine *replay.Engine) *Bridge {
	return &Bridge{
		engine: engine,
		pen:    DefaultPen,
		newID:  uuid.NewString,
	}
}

// SetPen 设置后续手势使用的工具与样式。
func (b *Bridge) SetPen(p Pen) {
	b.pen = p
}

func (b *Bridge) Pen() Pen {
	return b.pen
}

// Active 报告是否有进行中的手势。
func (b *Bridge) Active() bool {
	return b.buffer.IsActive()
}

// Begin 开始一个手势。单个点不产生痕迹，因此这里不绘制。
func (b *Bridge) Begin(p model.Point) {
	b.gesturePen = b.pen
	b.buffer.Begin(p)
}

// Extend 追加一个点并立即预览最新的一段。
func (b *Bridge) Extend(p model.Point) {
	if !b.buffer.IsActive() {
		return
	}
	b.buffer.Extend(p)
	seg := b.buffer.Last(2)
	if len(seg) == 2 {
		pen := b.gesturePen
		b.engine.Preview(seg[0], seg[1], pen.Tool, pen.Color, pen.Width)
	}
}

// End 结束手势，返回带 EventID、已通过校验的事件。
// 校验失败时返回包装了 codec.ErrInvalidEvent 的错误，该事件不应提交。
func (b *Bridge) End() (model.DrawEvent, error) {
	if !b.buffer.IsActive() {
		return model.DrawEvent{}, ErrNoGesture
	}
	pen := b.gesturePen
	evt := codec.EncodeStroke(pen.Tool, pen.Color, pen.Width, b.buffer.End())
	evt.EventID = b.newID()
	if err := codec.Validate(evt); err != nil {
		return model.DrawEvent{}, fmt.Errorf("end gesture: %w", err)
	}
	return evt, nil
}

// Clear 返回一个待提交的 clear 事件。本地不立即清屏：clear 的效果由日志顺序决定。
func (b *Bridge) Clear() model.DrawEvent {
	evt := codec.EncodeClear()
	evt.EventID = b.newID()
	return evt
}

// MarkUnsynced 记录一个追加失败的事件：它的预览像素保留在画布上，等待手动重试。
func (b *Bridge) MarkUnsynced(evt model.DrawEvent) {
	for _, existing := range b.unsynced {
		if existing.EventID == evt.EventID {
			return
		}
	}
	b.unsynced = append(b.unsynced, evt.Clone())
}

// Forget 移除未同步记录：重试后事件已被存储接受，或被明确拒绝。
func (b *Bridge) Forget(eventID string) {
	for i, evt := range b.unsynced {
		if evt.EventID == eventID {
			b.unsynced = append(b.unsynced[:i], b.unsynced[i+1:]...)
			return
		}
	}
}

// Unsynced 按失败顺序返回未同步事件的副本。
func (b *Bridge) Unsynced() []model.DrawEvent {
	out := make([]model.DrawEvent, len(b.unsynced))
	for i, evt := range b.unsynced {
		out[i] = evt.Clone()
	}
	return out
}
