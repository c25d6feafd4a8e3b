package overlay

import (
	"math"

	"printgrid/internal/emoji"
)

// emojiAdvance 是内嵌 emoji 占用的前进宽度（字号的倍数）。
const emojiAdvance = 1.1

// run 是文字层中的一段：纯文本或一个 emoji 字素。
type run struct {
	Text  string
	Emoji string
	// X, Y 是该段基线起点。
	X, Y    float64
	Advance float64
}

// layoutRuns 把文字按 emoji 切分成段，并沿旋转方向 (cos θ, sin θ) 依次排布。
// 所有段共用同一个旋转角，因此旋转后的字形保持共线。
func layoutRuns(text string, matches []emoji.Match, x, y, degrees, size float64, measure func(string) float64) []run {
	rad := degrees * math.Pi / 180
	dx, dy := math.Cos(rad), math.Sin(rad)

	var out []run
	cursor := 0.0
	add := func(r run) {
		r.X = x + cursor*dx
		r.Y = y + cursor*dy
		out = append(out, r)
		cursor += r.Advance
	}

	pos := 0
	for _, m := range matches {
		if m.ByteOffset > pos {
			seg := text[pos:m.ByteOffset]
			add(run{Text: seg, Advance: measure(seg)})
		}
		add(run{Emoji: m.Grapheme, Advance: size * emojiAdvance})
		pos = m.ByteOffset + len(m.Grapheme)
	}
	if pos < len(text) {
		seg := text[pos:]
		add(run{Text: seg, Advance: measure(seg)})
	}
	return out
}
