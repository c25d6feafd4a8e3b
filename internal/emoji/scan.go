// Package emoji 识别文字中内嵌的 emoji，并把 emoji 与贴纸引用解析为本地位图文件。
package emoji

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/rangetable"
)

// DefaultTable 是默认视为 emoji 的码位范围，可通过 NewScanner 追加。
var DefaultTable = rangetable.Merge(
	span(0x231A, 0x231B),
	span(0x23E9, 0x23F3),
	span(0x23F8, 0x23FA),
	span(0x25AA, 0x25AB),
	span(0x25B6, 0x25B6),
	span(0x25C0, 0x25C0),
	span(0x25FB, 0x25FE),
	span(0x2600, 0x26FF),
	span(0x2700, 0x27BF),
	span(0x2934, 0x2935),
	span(0x2B05, 0x2B07),
	span(0x2B1B, 0x2B1C),
	span(0x2B50, 0x2B50),
	span(0x2B55, 0x2B55),
	span(0x3030, 0x3030),
	span(0x303D, 0x303D),
	span(0x3297, 0x3297),
	span(0x3299, 0x3299),
	span(0x1F000, 0x1F02F),
	span(0x1F0A0, 0x1F0FF),
	span(0x1F100, 0x1F1FF),
	span(0x1F200, 0x1F2FF),
	span(0x1F300, 0x1F9FF),
	span(0x1FA70, 0x1FAFF),
)

func span(lo, hi rune) *unicode.RangeTable {
	if hi <= 0xFFFF {
		return &unicode.RangeTable{R16: []unicode.Range16{{Lo: uint16(lo), Hi: uint16(hi), Stride: 1}}}
	}
	return &unicode.RangeTable{R32: []unicode.Range32{{Lo: uint32(lo), Hi: uint32(hi), Stride: 1}}}
}

const (
	zwj        = 0x200D
	vs15       = 0xFE0E
	vs16       = 0xFE0F
	keycap     = 0x20E3
	regionalLo = 0x1F1E6
	regionalHi = 0x1F1FF
	skinToneLo = 0x1F3FB
	skinToneHi = 0x1F3FF
	tagLo      = 0xE0020
	tagHi      = 0xE007F
)

// Match 是文字中的一个 emoji 字素。
type Match struct {
	Grapheme string
	// ByteOffset 是字素在原字符串中的字节偏移。
	ByteOffset int
	// CharOffset 是字素之前的字符（rune）数量。
	CharOffset int
	// Length 是字素包含的 rune 数量。
	Length int
}

// Scanner 按码位表识别 emoji。零值不可用，使用 NewScanner。
type Scanner struct {
	table *unicode.RangeTable
}

// NewScanner 返回在 DefaultTable 基础上追加 extra 范围的扫描器。
func NewScanner(extra ...*unicode.RangeTable) *Scanner {
	if len(extra) == 0 {
		return &Scanner{table: DefaultTable}
	}
	tables := append([]*unicode.RangeTable{DefaultTable}, extra...)
	return &Scanner{table: rangetable.Merge(tables...)}
}

// IsEmoji 报告 r 是否落在扫描器的码位表中。
func (s *Scanner) IsEmoji(r rune) bool {
	return unicode.Is(s.table, r)
}

// Scan 从左到右返回 text 中的所有 emoji 字素。
// 紧随其后的变体选择符、肤色修饰符、键帽、标签序列以及 ZWJ 连接的后续 emoji 都并入同一字素。
func (s *Scanner) Scan(text string) []Match {
	var matches []Match
	chars := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if n := keycapLen(text[i:]); n > 0 {
			count := utf8.RuneCountInString(text[i : i+n])
			matches = append(matches, Match{
				Grapheme:   text[i : i+n],
				ByteOffset: i,
				CharOffset: chars,
				Length:     count,
			})
			i += n
			chars += count
			continue
		}
		if !s.IsEmoji(r) {
			i += size
			chars++
			continue
		}

		start := i
		end, count := s.extent(text, i+size, r)
		i = end
		matches = append(matches, Match{
			Grapheme:   text[start:i],
			ByteOffset: start,
			CharOffset: chars,
			Length:     count,
		})
		chars += count
	}
	return matches
}

// extent 从 i 开始吸收属于同一字素的后续码位，返回字素结束位置与 rune 数量（含首个 rune）。
func (s *Scanner) extent(text string, i int, first rune) (int, int) {
	count := 1
	regional := isRegional(first)
	for i < len(text) {
		next, n := utf8.DecodeRuneInString(text[i:])
		switch {
		case next == vs15 || next == vs16 || next == keycap:
		case next >= skinToneLo && next <= skinToneHi:
		case next >= tagLo && next <= tagHi:
		case regional && isRegional(next):
			regional = false
		case next == zwj:
			if i+n >= len(text) {
				return i, count
			}
			after, m := utf8.DecodeRuneInString(text[i+n:])
			if !s.IsEmoji(after) {
				return i, count
			}
			i += n
			count++
			n = m
		default:
			return i, count
		}
		i += n
		count++
	}
	return i, count
}

// keycapLen 返回 text 开头键帽序列（0-9、#、* 加可选 FE0F 再加 20E3）的字节长度，不是键帽时返回 0。
func keycapLen(text string) int {
	if text == "" || !strings.ContainsRune("0123456789#*", rune(text[0])) {
		return 0
	}
	i := 1
	if strings.HasPrefix(text[i:], string(rune(vs16))) {
		i += utf8.RuneLen(vs16)
	}
	if !strings.HasPrefix(text[i:], string(rune(keycap))) {
		return 0
	}
	return i + utf8.RuneLen(keycap)
}

func isRegional(r rune) bool {
	return r >= regionalLo && r <= regionalHi
}

// Key 把字素转换为 CDN 文件名使用的码位键：去掉变体选择符与 ZWJ，其余码位小写十六进制以 "-" 连接。
func Key(grapheme string) string {
	parts := make([]string, 0, 4)
	for _, r := range grapheme {
		if r == vs15 || r == vs16 || r == zwj {
			continue
		}
		parts = append(parts, strconv.FormatInt(int64(r), 16))
	}
	return strings.Join(parts, "-")
}
