package world

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// 参考地图参数
const (
	DefaultGridWidth   = 70
	DefaultBlockedTile = 1025
	DefaultCellSize    = 48.0
)

// Grid 静态碰撞网格：由一维瓦片数组按固定宽度切成行，构造后只读
type Grid struct {
	width   int
	height  int
	cell    float64
	blocked []bool
}

// NewGrid 按 width 切行，code 等于 blockedCode 的格子不可通行。
// 最后一行不足 width 时其余格子视为可通行。
func NewGrid(tiles []int, width, blockedCode int, cell float64) (*Grid, error) {
	if width <= 0 {
		return nil, fmt.Errorf("grid width must be positive, got %d", width)
	}
	if cell <= 0 {
		return nil, fmt.Errorf("grid cell size must be positive, got %v", cell)
	}
	height := (len(tiles) + width - 1) / width
	g := &Grid{
		width:   width,
		height:  height,
		cell:    cell,
		blocked: make([]bool, width*height),
	}
	for i, code := range tiles {
		g.blocked[i] = code == blockedCode
	}
	return g, nil
}

// LoadGridFile 读取地图碰撞数据。
// 接受纯 JSON 数组，也接受 `const collisions = [...]` 这类脚本导出格式。
func LoadGridFile(path string, width, blockedCode int, cell float64) (*Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collision map: %w", err)
	}
	start := bytes.IndexByte(raw, '[')
	end := bytes.LastIndexByte(raw, ']')
	if start < 0 || end < start {
		return nil, errors.New("collision map: no tile array found")
	}
	var tiles []int
	if err := json.Unmarshal(raw[start:end+1], &tiles); err != nil {
		return nil, fmt.Errorf("decode collision map: %w", err)
	}
	return NewGrid(tiles, width, blockedCode, cell)
}

// Width 列数
func (g *Grid) Width() int { return g.width }

// Height 行数
func (g *Grid) Height() int { return g.height }

// CellSize 单格边长（世界单位）
func (g *Grid) CellSize() float64 { return g.cell }

// Blocked 第 row 行 col 列是否不可通行；越界视为可通行
func (g *Grid) Blocked(col, row int) bool {
	if col < 0 || row < 0 || col >= g.width || row >= g.height {
		return false
	}
	return g.blocked[row*g.width+col]
}

// BlockedAt 世界坐标点是否落在不可通行格子内
func (g *Grid) BlockedAt(p Point) bool {
	return g.Blocked(int(math.Floor(p.X/g.cell)), int(math.Floor(p.Y/g.cell)))
}

// CellRect 格子在世界坐标中的矩形
func (g *Grid) CellRect(col, row int) Rect {
	return Rect{
		Min:  Point{X: float64(col) * g.cell, Y: float64(row) * g.cell},
		Size: Size{W: g.cell, H: g.cell},
	}
}

// Collides 矩形是否与任意不可通行格子相交。
// 只检查矩形覆盖范围内的候选格子，结果与逐格扫描一致。
func (g *Grid) Collides(r Rect) bool {
	if g.height == 0 {
		return false
	}
	c0 := clampInt(int(math.Ceil((r.Min.X-g.cell)/g.cell)), 0, g.width-1)
	c1 := clampInt(int(math.Floor(r.MaxX()/g.cell)), 0, g.width-1)
	r0 := clampInt(int(math.Ceil((r.Min.Y-g.cell)/g.cell)), 0, g.height-1)
	r1 := clampInt(int(math.Floor(r.MaxY()/g.cell)), 0, g.height-1)
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			if g.blocked[row*g.width+col] && r.Overlaps(g.CellRect(col, row)) {
				return true
			}
		}
	}
	return false
}

// CheckCollision 判断玩家矩形沿 dir 移动一步后是否撞墙（纯函数）
func (g *Grid) CheckCollision(r Rect, dir Direction, step float64) bool {
	return g.Collides(r.Offset(dir.Delta(step)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
