package replay

import (
	"image/color"
	"math/rand"
	"testing"

	"drawsync/server/internal/canvas"
	"drawsync/server/internal/model"

	"github.com/google/go-cmp/cmp"
)

// recordingSurface 记录引擎对画布的调用序列。
type recordingSurface struct {
	ops []string
}

func (s *recordingSurface) Clear() {
	s.ops = append(s.ops, "clear")
}

func (s *recordingSurface) Polyline(points []model.Point, style model.Style) {
	s.ops = append(s.ops, "line "+style.Color)
}

func line(seq int64, color string) model.DrawEvent {
	return model.DrawEvent{
		Seq:    seq,
		Kind:   model.KindStroke,
		Tool:   model.ToolBrush,
		Color:  color,
		Width:  4,
		Points: []model.Point{{X: 5, Y: 5}, {X: 35, Y: 35}},
	}
}

func clearAt(seq int64) model.DrawEvent {
	return model.DrawEvent{Seq: seq, Kind: model.KindClear}
}

func render(events []model.DrawEvent) string {
	r := canvas.NewRaster(40, 40)
	e := New(r)
	for _, evt := range events {
		e.Apply(evt)
	}
	return r.Digest()
}

func TestNewEngineStartsBlank(t *testing.T) {
	s := &recordingSurface{}
	e := New(s)
	if e.Last() != 0 || e.Gap() {
		t.Fatalf("unexpected initial state last=%d gap=%v", e.Last(), e.Gap())
	}
	if diff := cmp.Diff([]string{"clear"}, s.ops); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

// TestDeterminism 验证两个引擎对同一事件序列得到逐像素相同的画布。
func TestDeterminism(t *testing.T) {
	log := []model.DrawEvent{line(1, "#ff0000"), line(2, "#00ff00"), clearAt(3), line(4, "#0000ff")}
	if render(log) != render(log) {
		t.Fatalf("expected identical canvases for identical logs")
	}
}

// TestIdempotentReplay 验证同一事件交付两次与交付一次结果相同。
func TestIdempotentReplay(t *testing.T) {
	once := []model.DrawEvent{line(1, "#ff0000"), line(2, "#00ff00")}
	twice := []model.DrawEvent{line(1, "#ff0000"), line(1, "#ff0000"), line(2, "#00ff00"), line(2, "#00ff00"), line(1, "#ff0000")}
	if render(once) != render(twice) {
		t.Fatalf("expected duplicate deliveries to be discarded")
	}
}

// TestScrambledArrivalRendersInSeqOrder 验证乱序到达时按 seq 顺序绘制。
// 场景：红、绿两笔在同一位置重叠，无论到达顺序如何，最终都是后写的绿色在上。
func TestScrambledArrivalRendersInSeqOrder(t *testing.T) {
	ordered := []model.DrawEvent{line(1, "#ff0000"), line(2, "#00ff00"), line(3, "#0000ff"), clearAt(4), line(5, "#ff0000"), line(6, "#00ff00")}
	want := render(ordered)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		scrambled := append([]model.DrawEvent(nil), ordered...)
		rng.Shuffle(len(scrambled), func(a, b int) { scrambled[a], scrambled[b] = scrambled[b], scrambled[a] })
		if got := render(scrambled); got != want {
			t.Fatalf("scrambled order %v rendered differently", seqs(scrambled))
		}
	}
}

func TestApplyResults(t *testing.T) {
	s := &recordingSurface{}
	e := New(s)

	if got := e.Apply(line(2, "#00ff00")); got != Buffered {
		t.Fatalf("expected Buffered, got %v", got)
	}
	if got := e.Apply(line(2, "#00ff00")); got != Duplicate {
		t.Fatalf("expected Duplicate for pending seq, got %v", got)
	}
	if !e.Gap() {
		t.Fatalf("expected gap while seq 1 missing")
	}
	if got := e.Apply(line(1, "#ff0000")); got != Applied {
		t.Fatalf("expected Applied, got %v", got)
	}
	if e.Last() != 2 || e.Gap() {
		t.Fatalf("expected drained to 2, last=%d pending=%d", e.Last(), e.Pending())
	}
	if got := e.Apply(line(1, "#ff0000")); got != Duplicate {
		t.Fatalf("expected Duplicate for stale seq, got %v", got)
	}
	want := []string{"clear", "line #ff0000", "line #00ff00"}
	if diff := cmp.Diff(want, s.ops); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

// TestClearSemantics 验证 clear 只影响它之前的事件。
// 场景：A, clear, B 只剩 B；A, B, clear 为空白。
func TestClearSemantics(t *testing.T) {
	r := canvas.NewRaster(40, 40)
	New(r).ApplyAll([]model.DrawEvent{line(3, "#00ff00")})
	onlyB := r.Digest()

	if got := render([]model.DrawEvent{line(1, "#ff0000"), clearAt(2), line(3, "#00ff00")}); got != onlyB {
		t.Fatalf("expected A, clear, B to show only B")
	}
	if got := render([]model.DrawEvent{line(1, "#ff0000"), line(2, "#00ff00"), clearAt(3)}); got != render(nil) {
		t.Fatalf("expected A, B, clear to be blank")
	}
}

// TestDegenerateStrokeAdvancesWithoutMark 验证少于 2 个点的笔画不留痕迹，但占用 seq。
func TestDegenerateStrokeAdvancesWithoutMark(t *testing.T) {
	r := canvas.NewRaster(40, 40)
	e := New(r)
	blank := r.Digest()

	dot := line(1, "#000000")
	dot.Points = dot.Points[:1]
	empty := line(2, "#000000")
	empty.Points = nil

	e.Apply(dot)
	e.Apply(empty)
	if e.Last() != 2 {
		t.Fatalf("expected last 2, got %d", e.Last())
	}
	if r.Digest() != blank {
		t.Fatalf("expected degenerate strokes to leave no mark")
	}
}

// TestEraserPaintsBlank 验证橡皮擦以空白色绘制并忽略事件里的颜色。
func TestEraserPaintsBlank(t *testing.T) {
	r := canvas.NewRaster(40, 40)
	e := New(r)
	blank := r.Digest()

	e.Apply(line(1, "#000000"))
	eraser := line(2, "#ff0000")
	eraser.Tool = model.ToolEraser
	eraser.Width = 12
	e.Apply(eraser)

	if r.Digest() != blank {
		t.Fatalf("expected wider eraser along the same path to restore blank canvas")
	}
}

// TestApplyAllAcceptsGapsAndDrainsLive 验证全量快照接受空洞，并补齐先到的实时事件。
// 场景：实时推送 4 先到并缓冲；快照为 1,3（日志中没有 2）；之后应绘制到 4。
func TestApplyAllAcceptsGapsAndDrainsLive(t *testing.T) {
	s := &recordingSurface{}
	e := New(s)

	e.Apply(line(4, "#0000ff"))
	e.Apply(line(1, "#ff0000"))
	if n := e.ApplyAll([]model.DrawEvent{line(3, "#00ff00"), line(1, "#ff0000")}); n != 1 {
		t.Fatalf("expected only seq 3 applied from snapshot, got %d", n)
	}
	if e.Last() != 4 || e.Gap() {
		t.Fatalf("expected drained to 4, last=%d pending=%d", e.Last(), e.Pending())
	}
	want := []string{"clear", "line #ff0000", "line #00ff00", "line #0000ff"}
	if diff := cmp.Diff(want, s.ops); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

// TestJoinOverlapReconciled 验证订阅与全量拉取重叠时，每个事件只绘制一次。
func TestJoinOverlapReconciled(t *testing.T) {
	s := &recordingSurface{}
	e := New(s)

	// 订阅先收到 2、3，快照包含 1..3。
	e.Apply(line(2, "#00ff00"))
	e.Apply(line(3, "#0000ff"))
	e.ApplyAll([]model.DrawEvent{line(1, "#ff0000"), line(2, "#00ff00"), line(3, "#0000ff")})
	// 之后的实时推送重复了 3。
	e.Apply(line(3, "#0000ff"))

	want := []string{"clear", "line #ff0000", "line #00ff00", "line #0000ff"}
	if diff := cmp.Diff(want, s.ops); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

func TestResetReplaysFromScratch(t *testing.T) {
	r := canvas.NewRaster(40, 40)
	e := New(r)
	blank := r.Digest()

	e.Apply(line(1, "#000000"))
	e.Apply(line(3, "#000000"))
	e.Reset()
	if e.Last() != 0 || e.Gap() || r.Digest() != blank {
		t.Fatalf("expected reset to initial state")
	}
	if got := e.Apply(line(1, "#000000")); got != Applied {
		t.Fatalf("expected seq 1 to apply after reset, got %v", got)
	}
}

func TestPreviewUsesEraseColorForEraser(t *testing.T) {
	s := &recordingSurface{}
	e := New(s)
	e.Preview(model.Point{}, model.Point{X: 1}, model.ToolEraser, "#123456", 3)
	e.Preview(model.Point{}, model.Point{X: 1}, model.ToolBrush, "#123456", 3)
	want := []string{"clear", "line " + model.EraseColor, "line #123456"}
	if diff := cmp.Diff(want, s.ops); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
	if e.Last() != 0 {
		t.Fatalf("preview must not advance last")
	}
}

// TestScenarioSingleBlackLine 验证新客户端全量拉取后画出唯一的一条黑线。
func TestScenarioSingleBlackLine(t *testing.T) {
	r := canvas.NewRaster(20, 20)
	e := New(r)
	e.ApplyAll([]model.DrawEvent{{
		Seq:    1,
		Kind:   model.KindStroke,
		Tool:   model.ToolBrush,
		Color:  "#000000",
		Width:  5,
		Points: []model.Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
	}})

	black := color.RGBA{A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	if got := r.At(5, 5); got != black {
		t.Fatalf("expected black on the diagonal, got %v", got)
	}
	if got := r.At(15, 15); got != white {
		t.Fatalf("expected blank beyond the end point, got %v", got)
	}
	if got := r.At(9, 1); got != white {
		t.Fatalf("expected blank away from the line, got %v", got)
	}
}

func seqs(events []model.DrawEvent) []int64 {
	out := make([]int64, len(events))
	for i, evt := range events {
		out[i] = evt.Seq
	}
	return out
}
