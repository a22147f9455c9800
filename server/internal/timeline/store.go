package timeline

import (
	"context"

	"drawsync/server/internal/model"
)

type Store interface {
	// Append 以 append-first 的契约写入事件日志，返回存储分配的 seq。
	// 约定：seq 从 1 开始严格递增、永不复用；相同 EventID 的请求幂等返回同一 seq。
	Append(ctx context.Context, evt *model.DrawEvent) (int64, error)
	// List 返回全量事件（按 seq 升序），是某一时刻的一致快照。
	List(ctx context.Context) ([]model.DrawEvent, error)
	// ListAfter 返回 seq 大于 after 的事件（按 seq 升序），用于断线续传。
	ListAfter(ctx context.Context, after int64) ([]model.DrawEvent, error)
}
