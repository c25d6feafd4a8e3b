// Package order 定义渲染引擎消费的只读订单与照片值对象。
package order

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// 网格类型。
const (
	Grid3x3 = "3x3"
	Grid2x3 = "2x3"
)

// DefaultStore 是未指定门店时使用的门店标识。
const DefaultStore = "gran_shop"

// Order 是外部订单系统交给引擎的订单快照，引擎不会修改它。
type Order struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	Store         string `json:"store"`
	GridType      string `json:"grid_type"`
	HasBorder     bool   `json:"has_border"`
	CustomerName  string `json:"customer_name"`
	Magnet        bool   `json:"magnet"`
	Clip          bool   `json:"clip"`
	Twine         bool   `json:"twine"`
	Frame         bool   `json:"frame"`
	PhotoQuantity int    `json:"photo_quantity"`
}

// Crop 是源图像素坐标下的显式裁剪框。
type Crop struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Photo 是订单中的一张照片及其两组叠加图层（原始 JSON，由 layers.Normalize 解析）。
type Photo struct {
	ID            string          `json:"id"`
	PositionOrder int             `json:"position_order"`
	Source        string          `json:"source"`
	Crop          *Crop           `json:"crop,omitempty"`
	FontFamily    string          `json:"font_family"`
	TextLayers    json.RawMessage `json:"text_layers,omitempty"`
	EmojiLayers   json.RawMessage `json:"emoji_layers,omitempty"`
}

// HasCrop 报告照片是否携带有效的显式裁剪框（宽高取整后都大于 0）。
func (p Photo) HasCrop() bool {
	if p.Crop == nil {
		return false
	}
	return math.Round(p.Crop.W) > 0 && math.Round(p.Crop.H) > 0
}

// Ref 返回照片在日志与归档文件名中使用的引用。
func (p Photo) Ref() string {
	if strings.TrimSpace(p.ID) != "" {
		return p.ID
	}
	return p.Source
}

// SortPhotos 按 position_order 稳定排序。
func SortPhotos(photos []Photo) {
	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].PositionOrder < photos[j].PositionOrder
	})
}

// 页脚中的特性标签，按优先级排列。
const (
	LabelMagnet = "Com Ímã"
	LabelClip   = "Com Pregador"
	LabelTwine  = "Com Barbante"
	LabelFrame  = "Com Moldura"
	LabelNone   = "—"
)

// CharacteristicLabel 按 磁铁 > 夹子 > 麻绳 > 相框 的优先级返回第一个命中的特性标签。
func (o Order) CharacteristicLabel() string {
	switch {
	case o.Magnet:
		return LabelMagnet
	case o.Clip:
		return LabelClip
	case o.Twine:
		return LabelTwine
	case o.Frame:
		return LabelFrame
	default:
		return LabelNone
	}
}

// NormalizeStore 规范化门店标识：去空白、小写、空格与连字符替换为下划线。
func NormalizeStore(store string) string {
	s := strings.ToLower(strings.TrimSpace(store))
	if s == "" {
		return DefaultStore
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// CustomerLabel 返回页脚中展示的客户名。
func (o Order) CustomerLabel() string {
	if name := strings.TrimSpace(o.CustomerName); name != "" {
		return name
	}
	return "Cliente"
}
