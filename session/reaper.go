package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Reaper 定期删除空闲房间；玩家断开使房间变空时调用 ReapRoom
type Reaper struct {
	reg       *Registry
	interval  time.Duration
	threshold atomic.Int64
	// OnReap 每次删除了房间后回调（指标）
	OnReap func(n int)
}

func NewReaper(reg *Registry, interval, threshold time.Duration) *Reaper {
	r := &Reaper{reg: reg, interval: interval}
	r.threshold.Store(int64(threshold))
	return r
}

func (r *Reaper) Threshold() time.Duration { return time.Duration(r.threshold.Load()) }

// SetThreshold 热更新空闲阈值
func (r *Reaper) SetThreshold(d time.Duration) {
	r.threshold.Store(int64(d))
	r.reg.log.Infof("reaper idle threshold set to %s", d)
}

// ReapNow 同步执行一次，可重复调用
func (r *Reaper) ReapNow() int {
	start := time.Now()
	n := r.reg.ReapIdleRooms(r.Threshold())
	if n > 0 {
		r.reg.log.Infof("reaped %s idle rooms in %s (threshold %s)",
			humanize.Comma(int64(n)), time.Since(start), r.Threshold())
		if r.OnReap != nil {
			r.OnReap(n)
		}
	}
	return n
}

// ReapRoom 玩家断开使房间变空时只检查这一个房间
func (r *Reaper) ReapRoom(roomID string) bool {
	if !r.reg.ReapRoom(roomID, r.Threshold()) {
		return false
	}
	if r.OnReap != nil {
		r.OnReap(1)
	}
	return true
}

// Run 按 interval 周期执行，ctx 取消后返回
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapNow()
		}
	}
}
