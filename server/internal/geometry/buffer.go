package geometry

import "drawsync/server/internal/model"

// Buffer 在一次手势期间累积原始输入点，手势结束后交给编码器成为事件。
// 不校验坐标，也不限制点数：调用频率由输入源约束。
type Buffer struct {
	points []model.Point
	active bool
}

// Begin 开始一个只含一个点的新缓冲；已有未结束的手势会被丢弃。
func (b *Buffer) Begin(p model.Point) {
	b.points = []model.Point{p}
	b.active = true
}

// Extend 向活跃缓冲追加一个点，没有活跃手势时为 no-op。
func (b *Buffer) Extend(p model.Point) {
	if !b.active {
		return
	}
	b.points = append(b.points, p)
}

// End 返回累积的点并清空缓冲；没有活跃手势时返回 nil。
func (b *Buffer) End() []model.Point {
	if !b.active {
		return nil
	}
	out := b.points
	b.points = nil
	b.active = false
	return out
}

func (b *Buffer) IsActive() bool {
	return b.active
}

func (b *Buffer) Len() int {
	return len(b.points)
}

// Last 返回最近的 n 个点（不足 n 个时返回全部），用于增量绘制最新线段。
func (b *Buffer) Last(n int) []model.Point {
	if n <= 0 || len(b.points) == 0 {
		return nil
	}
	if n > len(b.points) {
		n = len(b.points)
	}
	out := make([]model.Point, n)
	copy(out, b.points[len(b.points)-n:])
	return out
}
