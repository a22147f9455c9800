package export

import (
	"fmt"
	"io"

	"drawsync/server/internal/model"
	"drawsync/server/internal/replay"

	"github.com/jung-kurt/gofpdf"
)

// PDF 是一个把回放结果写成 PDF 的 Surface：每个 clear 开启新的一页，
// 因此被清除的画面会作为历史页面保留下来。单位为 pt，1pt 对应 1 像素。
type PDF struct {
	doc *gofpdf.Fpdf
	// dirty 表示当前页已经画过东西，clear 需要翻页。
	dirty bool
}

func NewPDF(width, height int) *PDF {
	doc := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(width), Ht: float64(height)},
	})
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(0, 0, 0)
	doc.AddPage()
	return &PDF{doc: doc}
}

func (p *PDF) Clear() {
	if !p.dirty {
		return
	}
	p.doc.AddPage()
	p.dirty = false
}

func (p *PDF) Polyline(points []model.Point, style model.Style) {
	if len(points) < 2 {
		return
	}
	c, _ := model.ParseColor(style.Color)
	p.doc.SetDrawColor(int(c.R), int(c.G), int(c.B))
	p.doc.SetLineWidth(style.Width)
	p.doc.SetLineCapStyle("round")
	p.doc.SetLineJoinStyle("round")
	p.doc.MoveTo(points[0].X, points[0].Y)
	for _, pt := range points[1:] {
		p.doc.LineTo(pt.X, pt.Y)
	}
	p.doc.DrawPath("D")
	p.dirty = true
}

// Pages 返回当前页数。
func (p *PDF) Pages() int {
	return p.doc.PageCount()
}

// Write 输出 PDF 文档。
func (p *PDF) Write(w io.Writer) error {
	if err := p.doc.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// Render 按 seq 顺序回放 events 并返回生成的 PDF。
func Render(events []model.DrawEvent, width, height int) *PDF {
	doc := NewPDF(width, height)
	replay.New(doc).ApplyAll(events)
	return doc
}
