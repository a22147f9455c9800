package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"drawsync/server/internal/model"
)

// InMemoryStore 是一个基于内存的事件日志实现，进程退出即丢失。
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []model.DrawEvent
	seq      int64
	eventIDs map[string]int64
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		eventIDs: make(map[string]int64),
		now:      time.Now,
	}
}

// Append 追加事件并分配单调递增 seq。
// 副作用：会修改内存状态；相同 EventID 会直接返回已分配的 seq（幂等）。
func (s *InMemoryStore) Append(_ context.Context, evt *model.DrawEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.EventID != "" {
		if seq, exists := s.eventIDs[evt.EventID]; exists {
			return seq, nil
		}
	}

	s.seq++
	seq := s.seq

	eventCopy := evt.Clone()
	eventCopy.Seq = seq
	if eventCopy.CreatedAt.IsZero() {
		eventCopy.CreatedAt = s.now().UTC()
	}
	s.events = append(s.events, eventCopy)

	if evt.EventID != "" {
		s.eventIDs[evt.EventID] = seq
	}
	return seq, nil
}

// List 返回全部事件（按 seq 顺序）。
// 兼容性：返回深拷贝，避免调用方修改内部数据。
func (s *InMemoryStore) List(ctx context.Context) ([]model.DrawEvent, error) {
	return s.ListAfter(ctx, 0)
}

// ListAfter 返回 seq > after 的事件副本。
func (s *InMemoryStore) ListAfter(_ context.Context, after int64) ([]model.DrawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// events 按 seq 追加，seq 从 1 连续分配。
	start := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > after })
	out := make([]model.DrawEvent, 0, len(s.events)-start)
	for _, evt := range s.events[start:] {
		out = append(out, evt.Clone())
	}
	return out, nil
}
