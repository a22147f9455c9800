package canvas

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/draw"
	"io"
	"math"
	"sync"

	"drawsync/server/internal/model"

	"github.com/fogleman/gg"
)

// Raster 是基于 gg 的位图画布，空白为白色，与橡皮擦同色。
// 笔画不做抗锯齿，像素只取决于已绘制的几何，与绘制次数无关。
type Raster struct {
	mu sync.Mutex
	dc *gg.Context
}

func NewRaster(width, height int) *Raster {
	r := &Raster{dc: gg.NewContext(width, height)}
	r.Clear()
	return r
}

// Bounds 返回画布尺寸。
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.dc.Width(), r.dc.Height())
}

func (r *Raster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	blank, _ := model.ParseColor(model.EraseColor)
	r.dc.SetColor(blank)
	r.dc.Clear()
}

// minHalfWidth 保证细线至少覆盖与其相交的像素中心。
const minHalfWidth = 0.5

// Polyline 以硬边、不透明的方式绘制：像素中心到任一线段的距离不超过半线宽即着色。
// 同一几何重复绘制结果不变，逐段预览的并集与整条圆头圆角折线的像素完全相同。
func (r *Raster) Polyline(points []model.Point, style model.Style) {
	if len(points) < 2 {
		return
	}
	c, _ := model.ParseColor(style.Color)
	half := style.Width / 2
	if !(half >= minHalfWidth) {
		half = minHalfWidth
	}
	limit := float64(half * half)
	bounds := r.Bounds()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dc.SetColor(c)
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		if !finitePoint(a) || !finitePoint(b) {
			continue
		}
		box := segmentBox(a, b, half).Intersect(bounds)
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				if segmentDist2(float64(x)+0.5, float64(y)+0.5, a, b) <= limit {
					r.dc.SetPixel(x, y)
				}
			}
		}
	}
}

func finitePoint(p model.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// segmentBox 返回线段加上半线宽后的外接像素矩形，已裁剪到 int 范围内。
func segmentBox(a, b model.Point, half float64) image.Rectangle {
	clamp := func(v float64) int {
		return int(math.Max(-1, math.Min(v, math.MaxInt32)))
	}
	return image.Rect(
		clamp(math.Floor(math.Min(a.X, b.X)-half)),
		clamp(math.Floor(math.Min(a.Y, b.Y)-half)),
		clamp(math.Ceil(math.Max(a.X, b.X)+half)+1),
		clamp(math.Ceil(math.Max(a.Y, b.Y)+half)+1),
	)
}

// segmentDist2 返回点 (px, py) 到线段 ab 的距离平方。
// 每一步都显式转换为 float64，禁止 FMA 融合，不同平台得到相同的结果。
func segmentDist2(px, py float64, a, b model.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	t := 0.0
	if l2 := float64(dx*dx) + float64(dy*dy); l2 > 0 {
		t = (float64((px-a.X)*dx) + float64((py-a.Y)*dy)) / l2
		t = math.Max(0, math.Min(1, t))
	}
	ex := float64(a.X+float64(t*dx)) - px
	ey := float64(a.Y+float64(t*dy)) - py
	return float64(ex*ex) + float64(ey*ey)
}

// At 返回某个像素的颜色。
func (r *Raster) At(x, y int) color.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return color.RGBAModel.Convert(r.dc.Image().At(x, y)).(color.RGBA)
}

// Snapshot 返回当前像素的拷贝。
func (r *Raster) Snapshot() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.dc.Image()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out
}

// Digest 返回像素内容的 sha256，用于比较两块画布是否逐像素一致。
func (r *Raster) Digest() string {
	sum := sha256.Sum256(r.Snapshot().Pix)
	return hex.EncodeToString(sum[:])
}

// EncodePNG 把当前画布编码为 PNG。
func (r *Raster) EncodePNG(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dc.EncodePNG(w)
}

// SavePNG 把当前画布写入文件。
func (r *Raster) SavePNG(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dc.SavePNG(path)
}
