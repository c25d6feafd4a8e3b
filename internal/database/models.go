package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 订单状态。
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
)

// Order 表示外部订单系统中的一笔相框/磁贴订单。
type Order struct {
	gorm.Model
	OrderNumber   string       `gorm:"size:64;index"`
	Store         string       `gorm:"size:64"`
	GridType      string       `gorm:"size:8"`
	HasBorder     bool
	CustomerName  string       `gorm:"size:255"`
	Magnet        bool         `gorm:"default:false"`
	Clip          bool         `gorm:"default:false"`
	Twine         bool         `gorm:"default:false"`
	Frame         bool         `gorm:"default:false"`
	PhotoQuantity int          `gorm:"default:0"`
	Status        string       `gorm:"size:32;default:pending"`
	ArchiveKey    string       `gorm:"size:512"`
	Photos        []OrderPhoto `gorm:"constraint:OnDelete:CASCADE"`
}

// OrderPhoto 表示订单中的一张照片。
// 裁剪框为空时按 contain 方式铺满；图层以 JSONB 原样保存编辑器提交的内容。
type OrderPhoto struct {
	gorm.Model
	OrderID       uint           `gorm:"index"`
	PositionOrder int            `gorm:"default:0"`
	Source        string         `gorm:"size:1024"`
	CropX         *float64       `gorm:"column:crop_x"`
	CropY         *float64       `gorm:"column:crop_y"`
	CropW         *float64       `gorm:"column:crop_w"`
	CropH         *float64       `gorm:"column:crop_h"`
	FontFamily    string         `gorm:"size:128"`
	TextLayers    datatypes.JSON `gorm:"type:jsonb"`
	EmojiLayers   datatypes.JSON `gorm:"type:jsonb"`
}
