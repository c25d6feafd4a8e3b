package layers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformed 表示图层数据无法解析为任何已知格式。
var ErrMalformed = errors.New("malformed layer data")

// Normalize 将照片的原始文字层与贴纸层数据解析为规范的 Set。
// photoFont 是照片级的旧版字体，图层自身未指定字体时使用。
func Normalize(textRaw, emojiRaw []byte, photoFont string) (Set, error) {
	var set Set

	textItems, err := decodeCollection(textRaw)
	if err != nil {
		return Set{}, fmt.Errorf("text layers: %w", err)
	}
	for _, item := range textItems {
		layer, ok := textLayerFrom(item, photoFont)
		if ok {
			set.Text = append(set.Text, layer)
		}
	}

	emojiItems, err := decodeCollection(emojiRaw)
	if err != nil {
		return Set{}, fmt.Errorf("emoji layers: %w", err)
	}
	for _, item := range emojiItems {
		layer, ok := emojiLayerFrom(item)
		if ok {
			set.Emoji = append(set.Emoji, layer)
		}
	}

	return set, nil
}

func textLayerFrom(m map[string]any, photoFont string) (TextLayer, bool) {
	text := strings.TrimSpace(str(m, "text"))
	if text == "" {
		return TextLayer{}, false
	}
	font := strings.TrimSpace(str(m, "fontFamily"))
	if font == "" {
		font = strings.TrimSpace(photoFont)
	}
	if font == "" {
		font = DefaultFont
	}
	color := strings.TrimSpace(str(m, "color"))
	if color == "" {
		color = defaultColor
	}
	return TextLayer{
		Text:       text,
		FontFamily: font,
		Color:      color,
		Size:       num(m, "size"),
		Bold:       flag(m, "bold"),
		Italic:     flag(m, "italic"),
		Rotation:   num(m, "rotation"),
		X:          num(m, "x"),
		Y:          num(m, "y"),
		Frame:      Frame{EditorW: num(m, "editorW"), EditorH: num(m, "editorH")},
	}, true
}

func emojiLayerFrom(m map[string]any) (EmojiLayer, bool) {
	src := strings.TrimSpace(str(m, "imageSrc"))
	text := str(m, "text")
	if text == "" {
		text = str(m, "emoji")
	}
	if src == "" && text == "" {
		return EmojiLayer{}, false
	}
	return EmojiLayer{
		ImageSrc: src,
		Text:     text,
		Size:     num(m, "size"),
		Rotation: num(m, "rotation"),
		X:        num(m, "x"),
		Y:        num(m, "y"),
		Frame:    Frame{EditorW: num(m, "editorW"), EditorH: num(m, "editorH")},
	}, true
}

// decodeCollection 接受列表、单个对象、以数字为键的对象，以及被再次编码为字符串或
// 带有多余反斜杠的旧数据，返回图层对象列表。
func decodeCollection(raw []byte) ([]map[string]any, error) {
	return decodeDepth(raw, 0)
}

func decodeDepth(raw []byte, depth int) ([]map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		clean := stripSlashes(raw)
		if err2 := json.Unmarshal(clean, &v); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	switch data := v.(type) {
	case nil:
		return nil, nil
	case string:
		if depth > 0 {
			return nil, ErrMalformed
		}
		return decodeDepth([]byte(data), depth+1)
	case []any:
		out := make([]map[string]any, 0, len(data))
		for _, item := range data {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, nil
	case map[string]any:
		if isSingleLayer(data) {
			return []map[string]any{data}, nil
		}
		return indexedValues(data), nil
	default:
		return nil, ErrMalformed
	}
}

func isSingleLayer(m map[string]any) bool {
	for _, key := range []string{"text", "imageSrc", "emoji"} {
		if _, ok := m[key]; ok {
			return true
		}
	}
	return false
}

// indexedValues 处理 {"0": {...}, "1": {...}} 形式的旧数据，按键的数值顺序返回。
func indexedValues(m map[string]any) []map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		if item, ok := m[k].(map[string]any); ok {
			out = append(out, item)
		}
	}
	return out
}

// stripSlashes 去掉转义用的反斜杠，"\\\\" 还原为单个反斜杠。
func stripSlashes(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' {
			if i+1 < len(b) {
				i++
				out = append(out, b[i])
			}
			continue
		}
		out = append(out, b[i])
	}
	return out
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func flag(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s != "" && s != "0" && s != "false"
	}
	return false
}
