package world

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// 参考客户端参数
const (
	DefaultStep         = 3.0
	DefaultFrameRate    = 60.0
	DefaultSyncInterval = 100 * time.Millisecond
)

// DefaultPlayerSize 玩家精灵碰撞盒（单帧 48x68）
var DefaultPlayerSize = Size{W: 48, H: 68}

// MoveReport 客户端上报给服务端的位置（世界坐标）
type MoveReport struct {
	Position  Point
	Direction Direction
	Animate   bool
}

// MoverConfig 客户端移动参数
type MoverConfig struct {
	Step         float64
	Size         Size
	SyncInterval time.Duration
	// Screen 本地玩家在屏幕上的固定位置（相机跟随玩家，世界在动）
	Screen Point
}

// Mover 客户端本地预测：先查碰撞，成功就立即移动相机，
// 上报按 SyncInterval 节流。
type Mover struct {
	grid    *Grid
	cfg     MoverConfig
	camera  Point
	facing  Direction
	animate bool
	limiter *rate.Limiter
}

// NewMover grid 可为 nil（无碰撞）
func NewMover(grid *Grid, cfg MoverConfig, camera Point) *Mover {
	if cfg.Step <= 0 {
		cfg.Step = DefaultStep
	}
	if cfg.Size == (Size{}) {
		cfg.Size = DefaultPlayerSize
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	return &Mover{
		grid:    grid,
		cfg:     cfg,
		camera:  camera,
		facing:  DirDown,
		limiter: rate.NewLimiter(rate.Every(cfg.SyncInterval), 1),
	}
}

// PlaceAt 把相机对准世界坐标 p（用于服务端下发出生点之后）
func (m *Mover) PlaceAt(p Point) {
	m.camera = m.cfg.Screen.Sub(p)
}

// Camera 当前相机（背景）偏移
func (m *Mover) Camera() Point { return m.camera }

// WorldPosition 本地玩家的世界坐标 = 屏幕位置 - 相机偏移
func (m *Mover) WorldPosition() Point { return m.cfg.Screen.Sub(m.camera) }

// Facing 当前朝向
func (m *Mover) Facing() Direction { return m.facing }

// Animating 是否处于移动动画中
func (m *Mover) Animating() bool { return m.animate }

// Bounds 本地玩家在世界坐标中的碰撞盒
func (m *Mover) Bounds() Rect { return RectAt(m.WorldPosition(), m.cfg.Size) }

// RenderPosition 远端玩家的渲染位置，只由其世界坐标和本地相机推导
func (m *Mover) RenderPosition(remote Point) Point { return remote.Add(m.camera) }

// Step 尝试向 dir 移动一步。
// moved 表示本地是否实际移动；ok 为 true 时 report 需要发送给服务端。
func (m *Mover) Step(dir Direction, now time.Time) (report MoveReport, moved, ok bool) {
	if dir == DirNone {
		return MoveReport{}, false, false
	}
	m.facing = dir
	m.animate = true
	if m.grid != nil && m.grid.CheckCollision(m.Bounds(), dir, m.cfg.Step) {
		return MoveReport{}, false, false
	}
	m.camera = m.camera.Sub(dir.Delta(m.cfg.Step))
	if !m.limiter.AllowN(now, 1) {
		return MoveReport{}, true, false
	}
	return m.report(), true, true
}

// Halt 停止移动。之前在动画中则返回一次 animate=false 的上报，不受节流限制。
func (m *Mover) Halt() (MoveReport, bool) {
	if !m.animate {
		return MoveReport{}, false
	}
	m.animate = false
	return m.report(), true
}

func (m *Mover) report() MoveReport {
	return MoveReport{Position: m.WorldPosition(), Direction: m.facing, Animate: m.animate}
}

// MovePolicy 服务端对客户端上报位置的合理性检查。
// 位移不能超过 step*frameRate*elapsed*slack + 2*step；配置了网格时新位置不能压在障碍上。
type MovePolicy struct {
	Step      float64
	FrameRate float64
	Slack     float64
	Size      Size
	Grid      *Grid
}

// MaxDistance elapsed 时间内允许的最大位移
func (p MovePolicy) MaxDistance(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return p.Step*p.FrameRate*elapsed.Seconds()*p.Slack + 2*p.Step
}

// Allow 判断从 prev 到 next 的位移是否可信
func (p MovePolicy) Allow(prev, next Point, elapsed time.Duration) bool {
	if !finite(next.X) || !finite(next.Y) {
		return false
	}
	if p.Step > 0 && Distance(prev, next) > p.MaxDistance(elapsed) {
		return false
	}
	if p.Grid != nil && p.Grid.Collides(RectAt(next, p.Size)) {
		return false
	}
	return true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
