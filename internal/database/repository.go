package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"printgrid/internal/errcode"
	"printgrid/internal/order"
)

// OrderRepository 把数据库中的订单转换为渲染引擎使用的快照。
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建 OrderRepository。
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func parseID(id string) (uint, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return 0, errcode.Input("load order", fmt.Errorf("invalid order id %q", id))
	}
	return uint(n), nil
}

// Load 读取订单及其照片。订单不存在属于输入错误。
func (r *OrderRepository) Load(ctx context.Context, id string) (order.Order, []order.Photo, error) {
	pk, err := parseID(id)
	if err != nil {
		return order.Order{}, nil, err
	}

	var row Order
	err = r.db.WithContext(ctx).
		Preload("Photos", func(tx *gorm.DB) *gorm.DB { return tx.Order("position_order ASC, id ASC") }).
		First(&row, pk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order.Order{}, nil, errcode.Input("load order", fmt.Errorf("order %s not found", id))
	}
	if err != nil {
		return order.Order{}, nil, errcode.Resource("load order", err)
	}

	o := order.Order{
		ID:            strconv.FormatUint(uint64(row.ID), 10),
		OrderID:       row.OrderNumber,
		Store:         row.Store,
		GridType:      row.GridType,
		HasBorder:     row.HasBorder,
		CustomerName:  row.CustomerName,
		Magnet:        row.Magnet,
		Clip:          row.Clip,
		Twine:         row.Twine,
		Frame:         row.Frame,
		PhotoQuantity: row.PhotoQuantity,
	}
	if o.OrderID == "" {
		o.OrderID = o.ID
	}

	photos := make([]order.Photo, 0, len(row.Photos))
	for _, p := range row.Photos {
		photos = append(photos, toPhoto(p))
	}
	return o, photos, nil
}

func toPhoto(p OrderPhoto) order.Photo {
	out := order.Photo{
		ID:            strconv.FormatUint(uint64(p.ID), 10),
		PositionOrder: p.PositionOrder,
		Source:        p.Source,
		FontFamily:    p.FontFamily,
	}
	if len(p.TextLayers) > 0 {
		out.TextLayers = json.RawMessage(p.TextLayers)
	}
	if len(p.EmojiLayers) > 0 {
		out.EmojiLayers = json.RawMessage(p.EmojiLayers)
	}
	if p.CropX != nil && p.CropY != nil && p.CropW != nil && p.CropH != nil {
		out.Crop = &order.Crop{X: *p.CropX, Y: *p.CropY, W: *p.CropW, H: *p.CropH}
	}
	return out
}

// MarkCompleted 把订单标记为 completed；archiveKey 非空时一并记录。
func (r *OrderRepository) MarkCompleted(ctx context.Context, id, archiveKey string) error {
	pk, err := parseID(id)
	if err != nil {
		return err
	}
	updates := map[string]any{"status": OrderStatusCompleted}
	if archiveKey != "" {
		updates["archive_key"] = archiveKey
	}
	res := r.db.WithContext(ctx).Model(&Order{}).Where("id = ?", pk).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errcode.Input("mark completed", fmt.Errorf("order %s not found", id))
	}
	return nil
}

// Import 保存订单快照及其照片，返回新订单的主键。
func (r *OrderRepository) Import(ctx context.Context, o order.Order, photos []order.Photo) (uint, error) {
	row := Order{
		OrderNumber:   o.OrderID,
		Store:         o.Store,
		GridType:      o.GridType,
		HasBorder:     o.HasBorder,
		CustomerName:  o.CustomerName,
		Magnet:        o.Magnet,
		Clip:          o.Clip,
		Twine:         o.Twine,
		Frame:         o.Frame,
		PhotoQuantity: o.PhotoQuantity,
		Status:        OrderStatusPending,
	}
	if row.PhotoQuantity == 0 {
		row.PhotoQuantity = len(photos)
	}
	for _, p := range photos {
		row.Photos = append(row.Photos, fromPhoto(p))
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	return row.ID, nil
}

func fromPhoto(p order.Photo) OrderPhoto {
	row := OrderPhoto{
		PositionOrder: p.PositionOrder,
		Source:        p.Source,
		FontFamily:    p.FontFamily,
	}
	if len(p.TextLayers) > 0 {
		row.TextLayers = datatypes.JSON(p.TextLayers)
	}
	if len(p.EmojiLayers) > 0 {
		row.EmojiLayers = datatypes.JSON(p.EmojiLayers)
	}
	if p.Crop != nil {
		c := *p.Crop
		row.CropX, row.CropY, row.CropW, row.CropH = &c.X, &c.Y, &c.W, &c.H
	}
	return row
}
