// Package layers 定义照片叠加层（文字层与贴纸层）的规范形态，
// 并把数据库中各种历史格式统一解析为该形态。
package layers

import "math"

// 编辑器文字区域的参考尺寸，旧记录缺少 editorW/editorH 时使用。
const (
	ReferenceEditorW = 376.0
	ReferenceEditorH = 80.0
)

const (
	defaultTextSize  = 28.0
	defaultEmojiSize = 32.0
	minEmojiSize     = 8.0
	defaultColor     = "#000000"
	// DefaultFont 是图层与照片都未指定字体时使用的字体族。
	DefaultFont = "Pacifico"
	// BaselineRatio 是基线相对图层顶部的偏移（字号的比例）。
	BaselineRatio = 0.85
)

// Layer 是 TextLayer 与 EmojiLayer 的联合类型。
type Layer interface {
	isLayer()
}

// Frame 是图层创作时编辑器区域的尺寸。
type Frame struct {
	EditorW float64
	EditorH float64
}

// Resolve 对缺失或为零的尺寸回落到参考尺寸。
func (f Frame) Resolve() Frame {
	if f.EditorW <= 0 {
		f.EditorW = ReferenceEditorW
	}
	if f.EditorH <= 0 {
		f.EditorH = ReferenceEditorH
	}
	return f
}

// Factors 返回从编辑器坐标系到 w×h 目标区域的缩放系数。
func (f Frame) Factors(w, h float64) (sx, sy float64) {
	r := f.Resolve()
	return w / r.EditorW, h / r.EditorH
}

// TextLayer 是一段可能内嵌 emoji 的文字。
type TextLayer struct {
	Text       string
	FontFamily string
	Color      string
	Size       float64
	Bold       bool
	Italic     bool
	Rotation   float64
	X          float64
	Y          float64
	Frame      Frame
}

// EmojiLayer 是贴纸：优先使用图片资源 ImageSrc，旧数据只有字面 emoji（Text）。
type EmojiLayer struct {
	ImageSrc string
	Text     string
	Size     float64
	Rotation float64
	X        float64
	Y        float64
	Frame    Frame
}

func (TextLayer) isLayer()  {}
func (EmojiLayer) isLayer() {}

// Set 是一张照片的全部叠加层。
type Set struct {
	Text  []TextLayer
	Emoji []EmojiLayer
}

// Layers 按绘制顺序返回全部图层：先文字后贴纸。
func (s Set) Layers() []Layer {
	out := make([]Layer, 0, len(s.Text)+len(s.Emoji))
	for _, t := range s.Text {
		out = append(out, t)
	}
	for _, e := range s.Emoji {
		out = append(out, e)
	}
	return out
}

// Empty 报告是否没有任何可绘制图层。
func (s Set) Empty() bool {
	return len(s.Text) == 0 && len(s.Emoji) == 0
}

// PlacedText 是缩放到目标区域后的文字层。
type PlacedText struct {
	TextLayer
	FontSize float64
	// Baseline 是第一个字形基线的起点。
	BaselineX float64
	BaselineY float64
}

// Place 把文字层从编辑器坐标系缩放到 w×h 的叠加层。
// 字号使用横向系数，x/y 分别使用各自方向的系数。
func (t TextLayer) Place(w, h float64) PlacedText {
	sx, sy := t.Frame.Factors(w, h)
	size := t.Size
	if size <= 0 {
		size = defaultTextSize
	}
	fontSize := size * sx
	x := t.X * sx
	y := t.Y * sy
	return PlacedText{
		TextLayer: t,
		FontSize:  fontSize,
		BaselineX: x,
		BaselineY: y + fontSize*BaselineRatio,
	}
}

// PlacedEmoji 是缩放到目标区域后的贴纸层，(X, Y) 为左上角。
type PlacedEmoji struct {
	EmojiLayer
	PixelSize float64
	Left      float64
	Top       float64
}

// Place 把贴纸层缩放到 w×h 的叠加层，尺寸不小于 8 像素。
func (e EmojiLayer) Place(w, h float64) PlacedEmoji {
	sx, sy := e.Frame.Factors(w, h)
	size := e.Size
	if size <= 0 {
		size = defaultEmojiSize
	}
	return PlacedEmoji{
		EmojiLayer: e,
		PixelSize:  math.Max(minEmojiSize, size*sx),
		Left:       e.X * sx,
		Top:        e.Y * sy,
	}
}
