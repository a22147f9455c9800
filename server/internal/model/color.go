package model

import (
	"image/color"
	"strconv"
	"strings"
)

// EraseColor 是橡皮擦与空白画布共用的颜色。
const EraseColor = "#ffffff"

// DefaultColor 在颜色无法解析时使用，保证所有客户端得到同样的像素。
var DefaultColor = color.RGBA{A: 255}

// ParseColor 解析 #rrggbb 或 #rgb，失败时返回 DefaultColor 与 false。
func ParseColor(s string) (color.RGBA, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return DefaultColor, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return DefaultColor, false
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, true
}
