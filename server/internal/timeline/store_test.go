package timeline

import (
	"context"
	"testing"

	"drawsync/server/internal/model"
)

// 以下断言由内存实现与 SQLite 实现共用。

func runAppendAssignsSeq(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	seq1, err := store.Append(ctx, stroke(""))
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if seq1 != 1 {
		t.Fatalf("expected seq 1, got %d", seq1)
	}

	seq2, err := store.Append(ctx, &model.DrawEvent{Kind: model.KindClear})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("expected seq 2, got %d", seq2)
	}
}

func runAppendIdempotent(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	seq1, err := store.Append(ctx, stroke("evt-1"))
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	seq2, err := store.Append(ctx, stroke("evt-1"))
	if err != nil {
		t.Fatalf("append duplicate event: %v", err)
	}
	if seq2 != seq1 {
		t.Fatalf("expected same seq for duplicate event_id, got %d vs %d", seq1, seq2)
	}

	events, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event stored, got %d", len(events))
	}
	if events[0].Seq != seq1 || events[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected stored event: %+v", events[0])
	}
}

func runListAfter(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, stroke("")); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := store.ListAfter(ctx, 3)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 4 || events[1].Seq != 5 {
		t.Fatalf("unexpected events after 3: %+v", events)
	}
	if len(events[0].Points) != 2 {
		t.Fatalf("expected points preserved, got %v", events[0].Points)
	}

	events, err = store.ListAfter(ctx, 5)
	if err != nil {
		t.Fatalf("list after head: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events after head, got %d", len(events))
	}
}
