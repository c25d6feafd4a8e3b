// Package photo 把一张源照片放进槽位矩形：显式裁剪框优先，否则等比缩放后居中补透明边，
// 编辑器导出的 PNG 只做精确缩放。旋转总是在裁剪/缩放之后进行。
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"printgrid/internal/grid"
	"printgrid/internal/order"
	"printgrid/internal/outcome"
)

// editorFormat 是编辑器导出成品时使用的编码格式；原图通常是 JPEG/WebP。
const editorFormat = "png"

// ErrMissingSource 表示源文件不存在或为空。
var ErrMissingSource = errors.New("photo source missing")

// Source 是解码后的源照片。
type Source struct {
	Image  image.Image
	Format string
}

// EditorExport 报告源图是否是编辑器已经裁好的成品。
func (s Source) EditorExport() bool { return s.Format == editorFormat }

// Load 读取并解码源照片，按 EXIF 方向自动摆正。
func Load(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Source{}, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		return Source{}, fmt.Errorf("read photo: %w", err)
	}
	if len(data) == 0 {
		return Source{}, fmt.Errorf("%w: %s is empty", ErrMissingSource, path)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Source{}, fmt.Errorf("decode photo config: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Source{}, fmt.Errorf("decode photo: %w", err)
	}
	return Source{Image: img, Format: format}, nil
}

// Fit 生成恰好填满 w×h 的图像（已按 rotation 顺时针旋转），p 的裁剪框仅在 HasCrop 时生效。
// rotation 为 90/270 时先缩放到转置尺寸，旋转后正好铺满目标矩形。
func Fit(src Source, p order.Photo, w, h, rotation int) *image.NRGBA {
	tw, th := w, h
	if quarterTurn(rotation) {
		tw, th = h, w
	}

	var out *image.NRGBA
	switch {
	case src.EditorExport():
		out = imaging.Resize(src.Image, tw, th, imaging.Lanczos)
	case p.HasCrop():
		r := ClampCrop(src.Image.Bounds(), *p.Crop)
		out = imaging.Resize(imaging.Crop(src.Image, r), tw, th, imaging.Lanczos)
	default:
		out = contain(src.Image, tw, th)
	}
	return rotate(out, rotation)
}

// ClampCrop 把裁剪框收缩到源图范围内，结果总有正的宽高。
func ClampCrop(bounds image.Rectangle, c order.Crop) image.Rectangle {
	sw, sh := bounds.Dx(), bounds.Dy()
	x := clamp(int(math.Round(c.X)), 0, sw-1)
	y := clamp(int(math.Round(c.Y)), 0, sh-1)
	cw := clamp(int(math.Round(c.W)), 1, sw-x)
	ch := clamp(int(math.Round(c.H)), 1, sh-y)
	return image.Rect(x, y, x+cw, y+ch).Add(bounds.Min)
}

// contain 等比缩放到 w×h 之内（允许放大），再居中贴到透明画布上。不做裁切。
func contain(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	ratio := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	fw := clamp(int(math.Round(float64(b.Dx())*ratio)), 1, w)
	fh := clamp(int(math.Round(float64(b.Dy())*ratio)), 1, h)

	fitted := imaging.Resize(img, fw, fh, imaging.Lanczos)
	canvas := imaging.New(w, h, color.NRGBA{})
	return imaging.PasteCenter(canvas, fitted)
}

// rotate 顺时针旋转；imaging 的旋转方向是逆时针。
func rotate(img *image.NRGBA, degrees int) *image.NRGBA {
	switch normalize(degrees) {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

func normalize(degrees int) int {
	d := degrees % 360
	if d < 0 {
		d += 360
	}
	return d
}

func quarterTurn(degrees int) bool {
	d := normalize(degrees)
	return d == 90 || d == 270
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Placer 把照片绘制到页面画布上。
type Placer struct {
	logger *slog.Logger
}

// NewPlacer 创建 Placer。
func NewPlacer(logger *slog.Logger) *Placer {
	return &Placer{logger: logger}
}

// Place 把 p 放入 rect。源文件缺失或无法解码时跳过该槽位并返回 Skipped，不会中断整页。
func (pl *Placer) Place(dst draw.Image, p order.Photo, rect grid.Rect, rotation int) outcome.Item {
	ref := p.Ref()
	src, err := Load(p.Source)
	if err != nil {
		pl.logger.Warn("photo skipped",
			slog.String("photo", ref),
			slog.String("source", p.Source),
			slog.Any("error", err),
		)
		return outcome.Skip(outcome.ScopePhoto, ref, err)
	}

	img := Fit(src, p, rect.W, rect.H, rotation)
	draw.Draw(dst, rect.Image(), img, image.Point{}, draw.Over)
	return outcome.Done(outcome.ScopePhoto, ref)
}
