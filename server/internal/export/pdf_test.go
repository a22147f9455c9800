package export

import (
	"bytes"
	"testing"

	"drawsync/server/internal/model"
)

func stroke(seq int64) model.DrawEvent {
	return model.DrawEvent{
		Seq:    seq,
		Kind:   model.KindStroke,
		Tool:   model.ToolBrush,
		Color:  "#000000",
		Width:  5,
		Points: []model.Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
	}
}

// TestRenderStartsPageOnClear 验证每个 clear 在有内容时开启新页。
// 场景：A, clear, B, clear, clear 得到 3 页（最后一页空白）。
func TestRenderStartsPageOnClear(t *testing.T) {
	events := []model.DrawEvent{
		stroke(1),
		{Seq: 2, Kind: model.KindClear},
		stroke(3),
		{Seq: 4, Kind: model.KindClear},
		{Seq: 5, Kind: model.KindClear},
	}
	doc := Render(events, 100, 80)
	if got := doc.Pages(); got != 3 {
		t.Fatalf("expected 3 pages, got %d", got)
	}
}

func TestRenderEmptyLogHasOnePage(t *testing.T) {
	doc := Render(nil, 100, 80)
	if got := doc.Pages(); got != 1 {
		t.Fatalf("expected 1 page, got %d", got)
	}
}

func TestWriteProducesPDF(t *testing.T) {
	var buf bytes.Buffer
	if err := Render([]model.DrawEvent{stroke(1)}, 100, 80).Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("expected pdf header, got %q", buf.Bytes()[:8])
	}
}
