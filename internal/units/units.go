// Package units 提供毫米与像素之间的换算，以及导出倍率下的取整规则。
package units

import "math"

// DPI 是画布的标称分辨率。
const DPI = 300.0

// DefaultExportScale 是高分辨率母版相对标称 300 DPI 画布的倍率。
const DefaultExportScale = 4

const mmPerInch = 25.4

// Round3 四舍五入到小数点后三位，避免多个槽位累积浮点误差。
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// MmToPx 将毫米换算为指定 DPI 下的像素（保留三位小数）。
func MmToPx(mm, dpi float64) float64 {
	return Round3(mm / mmPerInch * dpi)
}

// PxToMm 是 MmToPx 的逆运算。
func PxToMm(px, dpi float64) float64 {
	return Round3(px / dpi * mmPerInch)
}

// Px 返回 300 DPI 下 mm 对应的整数像素。
func Px(mm float64) int {
	return int(math.Round(MmToPx(mm, DPI)))
}

// Scale 表示导出倍率，所有喂给合成器的绝对坐标都必须先经过它。
type Scale int

// Normalize 将非法倍率回落到默认值。
func (s Scale) Normalize() Scale {
	if s <= 0 {
		return DefaultExportScale
	}
	return s
}

// Of 将标称像素值放大到导出分辨率。
func (s Scale) Of(px int) int {
	return px * int(s.Normalize())
}

// OfF 放大浮点像素值并取整。
func (s Scale) OfF(px float64) int {
	return int(math.Round(px * float64(s.Normalize())))
}

// Float 返回倍率的浮点值。
func (s Scale) Float() float64 {
	return float64(s.Normalize())
}
