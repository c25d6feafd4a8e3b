// Package grid 是纯几何计算：根据网格变体与槽位序号给出照片矩形、文字区域、
// 旋转角度，以及页面级的角标、参考线与页脚锚点。所有结果都已乘以导出倍率。
package grid

import (
	"fmt"
	"image"
	"math"

	"printgrid/internal/layers"
	"printgrid/internal/order"
	"printgrid/internal/units"
)

// Variant 由 (网格类型, 是否有边框) 唯一确定，生成过程中不会改变。
type Variant int

const (
	Bordered3x3 Variant = iota
	Borderless3x3
	Bordered2x3
	Borderless2x3
)

// VariantFor 选择布局算法。未知网格类型按 3x3 处理。
func VariantFor(gridType string, hasBorder bool) Variant {
	switch {
	case gridType == order.Grid2x3 && hasBorder:
		return Bordered2x3
	case gridType == order.Grid2x3:
		return Borderless2x3
	case hasBorder:
		return Bordered3x3
	default:
		return Borderless3x3
	}
}

func (v Variant) String() string {
	switch v {
	case Bordered3x3:
		return "3x3-bordered"
	case Borderless3x3:
		return "3x3-borderless"
	case Bordered2x3:
		return "2x3-bordered"
	case Borderless2x3:
		return "2x3-borderless"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Cols 返回每行槽位数。
func (v Variant) Cols() int {
	if v.compact() {
		return 2
	}
	return 3
}

// Rows 返回每页行数。
func (v Variant) Rows() int { return 3 }

// PerPage 返回每页照片数：3x3 为 9，2x3 为 6。
func (v Variant) PerPage() int { return v.Cols() * v.Rows() }

func (v Variant) compact() bool { return v == Bordered2x3 || v == Borderless2x3 }

// 画布标称尺寸：190mm × 275mm @ 300 DPI。
var (
	CanvasW = units.Px(190)
	CanvasH = units.Px(275)
)

// 3x3 有边框：照片下方是同宽的文字带。
var (
	b33PadLeft    = units.Px(6)
	b33PadTop     = units.Px(10)
	b33ColGap     = units.Px(7)
	b33RowGap     = units.Px(8)
	b33SlotW      = units.Px(53.7)
	b33PhotoH     = units.Px(60.1)
	b33TextMargin = units.Px(1)
	b33TextH      = units.Px(14.2)
)

// 3x3 无边框：出血排版，没有文字区。
var (
	bl33PadLeft = units.Px(2)
	bl33PadTop  = units.Px(9)
	bl33Gap     = units.Px(0.35)
	bl33SlotW   = units.Px(60.8)
	bl33SlotH   = units.Px(77.8)
)

// 2x3 有边框：照片横放，文字条竖排在照片左侧。
var (
	b23PhotoW     = units.Px(72)
	b23PhotoH     = units.Px(67)
	b23HalfPhotoW = units.Px(28.2)
	b23TextGap    = units.Px(4)
	b23TextW      = units.Px(13.55)
	b23TextH      = units.Px(65)
	b23BandTop    = units.Px(10)
	b23BandBottom = CanvasH - units.Px(3)
	b23BorderW    = 2
)

// 2x3 无边框。
var (
	bl23PadTop = units.Px(9)
	bl23Gap    = units.Px(0.5)
	bl23SlotW  = units.Px(94.75)
	bl23SlotH  = units.Px(78)
)

// 2x3 参考线位置（画布高度的百分比），同时决定有边框变体三行的非均匀行带。
const (
	GuideUpper = 0.336
	GuideLower = 0.662
)

// 角标：直径 4.5mm，距离页角 1mm。
var (
	dotDiameter = units.Px(4.5)
	dotOffset   = units.Px(1)
)

// Rect 是画布上的像素矩形。
type Rect struct {
	X, Y, W, H int
}

// Image 转换为 image.Rectangle。
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Area 返回面积。
func (r Rect) Area() int { return r.W * r.H }

// Empty 报告矩形是否没有面积。
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Slot 是一个槽位的几何信息。
type Slot struct {
	Index int
	Row   int
	Col   int

	Photo Rect
	// PhotoRotation 是照片顺时针旋转角度（0 或 90）。
	PhotoRotation int
	// PhotoStroke 是照片外框线宽，0 表示不描边。
	PhotoStroke int

	HasCaption bool
	Caption    Rect
	// OverlayW/OverlayH 是叠加层的绘制缓冲尺寸，图层坐标按它缩放；
	// 与 Caption 尺寸不同时，绘制并旋转后再缩放到 Caption。
	OverlayW int
	OverlayH int
	// CaptionRotation 是整个叠加层绘制完成后的顺时针旋转角度。
	CaptionRotation int
}

// Calculator 在固定导出倍率下计算槽位几何。
type Calculator struct {
	scale units.Scale
}

// NewCalculator 创建 Calculator，非法倍率回落到默认值。
func NewCalculator(scale units.Scale) Calculator {
	return Calculator{scale: scale.Normalize()}
}

// Scale 返回导出倍率。
func (c Calculator) Scale() units.Scale { return c.scale }

// S 把标称像素放大到导出分辨率。
func (c Calculator) S(px int) int { return c.scale.Of(px) }

// Canvas 返回导出分辨率下的画布尺寸。
func (c Calculator) Canvas() (w, h int) {
	return c.S(CanvasW), c.S(CanvasH)
}

// Slot 返回变体中第 index 个槽位（行优先）。超出每页容量时 ok 为 false。
func (c Calculator) Slot(v Variant, index int) (Slot, bool) {
	if index < 0 || index >= v.PerPage() {
		return Slot{}, false
	}
	s := Slot{Index: index, Col: index % v.Cols(), Row: index / v.Cols()}

	switch v {
	case Bordered3x3:
		x := c.S(b33PadLeft) + s.Col*(c.S(b33SlotW)+c.S(b33ColGap))
		y := c.S(b33PadTop) + s.Row*(c.S(b33PhotoH)+c.S(b33TextMargin)+c.S(b33TextH)+c.S(b33RowGap))
		s.Photo = Rect{X: x, Y: y, W: c.S(b33SlotW), H: c.S(b33PhotoH)}
		s.HasCaption = true
		s.Caption = Rect{X: x, Y: y + c.S(b33PhotoH) + c.S(b33TextMargin), W: c.S(b33SlotW), H: c.S(b33TextH)}
		s.OverlayW, s.OverlayH = s.Caption.W, s.Caption.H

	case Borderless3x3:
		s.Photo = Rect{
			X: c.S(bl33PadLeft) + s.Col*(c.S(bl33SlotW)+c.S(bl33Gap)),
			Y: c.S(bl33PadTop) + s.Row*(c.S(bl33SlotH)+c.S(bl33Gap)),
			W: c.S(bl33SlotW),
			H: c.S(bl33SlotH),
		}

	case Bordered2x3:
		canvasW, _ := c.Canvas()
		center := canvasW / 4
		if s.Col == 1 {
			center = canvasW * 3 / 4
		}
		photoX := center - c.S(b23HalfPhotoW)
		photoY := c.rowY2x3(s.Row)
		s.Photo = Rect{X: photoX, Y: photoY, W: c.S(b23PhotoW), H: c.S(b23PhotoH)}
		s.PhotoRotation = 90
		s.PhotoStroke = c.S(b23BorderW)
		s.HasCaption = true
		s.Caption = Rect{
			X: photoX - c.S(b23TextGap) - c.S(b23TextW),
			Y: photoY + (c.S(b23PhotoH)-c.S(b23TextH))/2,
			W: c.S(b23TextW),
			H: c.S(b23TextH),
		}
		s.OverlayW = c.scale.OfF(layers.ReferenceEditorW)
		s.OverlayH = c.scale.OfF(layers.ReferenceEditorH)
		s.CaptionRotation = 90

	case Borderless2x3:
		s.Photo = Rect{
			X: s.Col * (c.S(bl23SlotW) + c.S(bl23Gap)),
			Y: c.S(bl23PadTop) + s.Row*(c.S(bl23SlotH)+c.S(bl23Gap)),
			W: c.S(bl23SlotW),
			H: c.S(bl23SlotH),
		}
		s.PhotoRotation = 90

	default:
		return Slot{}, false
	}
	return s, true
}

// rowY2x3 在三条非均匀行带中垂直居中照片，行带由 33.6% / 66.2% 参考线切分。
func (c Calculator) rowY2x3(row int) int {
	bands := c.bands2x3()
	top, bottom := bands[row], bands[row+1]
	return top + (bottom-top-c.S(b23PhotoH))/2
}

func (c Calculator) bands2x3() [4]int {
	return [4]int{
		c.S(b23BandTop),
		c.S(guideY(GuideUpper)),
		c.S(guideY(GuideLower)),
		c.S(b23BandBottom),
	}
}

func guideY(ratio float64) int {
	return int(math.Round(float64(CanvasH) * ratio))
}

// Slots 返回一页前 n 个槽位，n 超过容量时截断。
func (c Calculator) Slots(v Variant, n int) []Slot {
	if n > v.PerPage() {
		n = v.PerPage()
	}
	out := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		s, _ := c.Slot(v, i)
		out = append(out, s)
	}
	return out
}

// Dot 是一个实心圆角标。
type Dot struct {
	X, Y, R float64
}

// CornerDots 返回四个角的套准圆点。
func (c Calculator) CornerDots() []Dot {
	w, h := c.Canvas()
	r := float64(dotDiameter) * c.scale.Float() / 2
	off := float64(c.S(dotOffset))
	fw, fh := float64(w), float64(h)
	return []Dot{
		{X: off + r, Y: off + r, R: r},
		{X: fw - off - r, Y: off + r, R: r},
		{X: off + r, Y: fh - off - r, R: r},
		{X: fw - off - r, Y: fh - off - r, R: r},
	}
}

// Line 是一条参考线。
type Line struct {
	X1, Y1, X2, Y2 float64
}

// Guides 返回 2x3 变体的虚线参考线：竖直 50%，水平 33.6% 与 66.2%。3x3 没有参考线。
func (c Calculator) Guides(v Variant) []Line {
	if !v.compact() {
		return nil
	}
	w, h := c.Canvas()
	fw, fh := float64(w), float64(h)
	upper := float64(c.S(guideY(GuideUpper)))
	lower := float64(c.S(guideY(GuideLower)))
	return []Line{
		{X1: fw / 2, Y1: 0, X2: fw / 2, Y2: fh},
		{X1: 0, Y1: upper, X2: fw, Y2: upper},
		{X1: 0, Y1: lower, X2: fw, Y2: lower},
	}
}

// Footer 描述页脚的字体与锚点（水平居中于 X，Baseline 为基线）。
type Footer struct {
	Family   string
	Size     float64
	X        float64
	Baseline float64
}

// Footer 返回变体的页脚排版。
func (c Calculator) Footer(v Variant) Footer {
	w, h := c.Canvas()
	f := Footer{Family: "Montserrat", Size: float64(c.S(46)), X: float64(w) / 2}
	switch v {
	case Bordered2x3:
		f.X = float64(c.S(units.Px(84)))
		f.Baseline = float64(c.S(CanvasH - units.Px(3)))
	case Borderless2x3:
		f.Family = "Pacifico"
		f.Size = float64(c.S(40))
		f.Baseline = float64(h - c.S(units.Px(9)))
	default:
		f.Baseline = float64(h - c.S(units.Px(5)))
	}
	return f
}
