// Package naming 生成缓存文件名、归档条目名等磁盘安全的名字。
package naming

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold 去掉变音符号：Ímã -> Ima。
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slug 返回只包含 [a-z0-9-] 的名字，用于字体缓存等内容寻址的文件名。
func Slug(s string) string {
	s = cases.Lower(language.Und).String(fold(strings.TrimSpace(s)))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// File 返回保留大小写与空格、可作为文件名的名字：去掉变音符号，
// 路径分隔符与保留字符替换为 "-"，控制字符删除，连续空白合并。
func File(s string) string {
	s = fold(strings.TrimSpace(s))
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteByte('-')
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "untitled"
	}
	return out
}
