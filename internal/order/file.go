package order

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document 是离线渲染使用的订单文件：订单字段与照片列表写在同一个 JSON 对象里。
type Document struct {
	Order
	Photos []Photo `json:"photos"`
}

// ReadFile 读取订单文件。相对路径的照片源以订单文件所在目录为基准。
func ReadFile(path string) (Order, []Photo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Order{}, nil, fmt.Errorf("read order file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Order{}, nil, fmt.Errorf("parse order file: %w", err)
	}

	base := filepath.Dir(path)
	for i := range doc.Photos {
		src := strings.TrimSpace(doc.Photos[i].Source)
		if src != "" && !filepath.IsAbs(src) {
			doc.Photos[i].Source = filepath.Join(base, src)
		}
	}
	if doc.ID == "" {
		doc.ID = doc.OrderID
	}
	return doc.Order, doc.Photos, nil
}
