package world

import (
	"math"
	"strings"
)

// Point 世界坐标（与任何观察者的相机偏移无关）
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Add 向量相加
func (p Point) Add(o Point) Point { return Point{X: p.X + o.X, Y: p.Y + o.Y} }

// Sub 向量相减
func (p Point) Sub(o Point) Point { return Point{X: p.X - o.X, Y: p.Y - o.Y} }

// Distance 两点间直线距离
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Size 矩形尺寸
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect 轴对齐矩形，Min 为左上角
type Rect struct {
	Min  Point
	Size Size
}

// RectAt 以 p 为左上角构造矩形
func RectAt(p Point, s Size) Rect { return Rect{Min: p, Size: s} }

// MaxX 右边界
func (r Rect) MaxX() float64 { return r.Min.X + r.Size.W }

// MaxY 下边界
func (r Rect) MaxY() float64 { return r.Min.Y + r.Size.H }

// Offset 平移后的矩形
func (r Rect) Offset(d Point) Rect { return Rect{Min: r.Min.Add(d), Size: r.Size} }

// Overlaps 标准 AABB 重叠检测：两轴投影都重叠才算相交（边缘接触也算）
func (r Rect) Overlaps(o Rect) bool {
	return r.MaxX() >= o.Min.X &&
		r.Min.X <= o.MaxX() &&
		r.Min.Y <= o.MaxY() &&
		r.MaxY() >= o.Min.Y
}

// Direction 移动/朝向方向
type Direction int

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

// String 线协议中的方向字符串
func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return ""
	}
}

// ParseDirection 解析方向字符串，未知值返回 DirNone
func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "up":
		return DirUp
	case "down":
		return DirDown
	case "left":
		return DirLeft
	case "right":
		return DirRight
	default:
		return DirNone
	}
}

// Delta 该方向上移动 step 的位移
func (d Direction) Delta(step float64) Point {
	switch d {
	case DirUp:
		return Point{Y: -step}
	case DirDown:
		return Point{Y: step}
	case DirLeft:
		return Point{X: -step}
	case DirRight:
		return Point{X: step}
	default:
		return Point{}
	}
}
