package logx

import (
	"context"

	"pkt.systems/pslog"
)

// Ctx 返回 context 中绑定的日志器。
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSeq 在事件已分配序号时附加 seq 字段。
func WithSeq(log pslog.Logger, seq int64) pslog.Logger {
	if seq > 0 {
		log = log.With("seq", seq)
	}
	return log
}
