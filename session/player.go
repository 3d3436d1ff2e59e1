package session

import (
	"time"

	"realmarena/world"
)

// Player 房间内的一个连接
type Player struct {
	ID         string
	Name       string
	Position   world.Point
	Direction  world.Direction
	Animate    bool
	JoinedAt   time.Time
	LastUpdate time.Time
}

// Patch 移动上报中需要合并的字段，nil 表示不变
type Patch struct {
	Position  *world.Point
	Direction *world.Direction
	Animate   *bool
}

// MovePatch 一次完整的移动上报
func MovePatch(pos world.Point, dir world.Direction, animate bool) Patch {
	return Patch{Position: &pos, Direction: &dir, Animate: &animate}
}

func (p *Player) apply(patch Patch, now time.Time) {
	if patch.Position != nil {
		p.Position = *patch.Position
	}
	if patch.Direction != nil && *patch.Direction != world.DirNone {
		p.Direction = *patch.Direction
	}
	if patch.Animate != nil {
		p.Animate = *patch.Animate
	}
	p.LastUpdate = now
}
