package session

import (
	"sync/atomic"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/dustin/go-humanize"
)

// inflight 一次请求的执行状态。
// 请求方超时后尝试 cancel：成功说明 actor 还没开始，之后会跳过它；
// 失败说明已经在执行，请求方改为等 done 拿最终结果，两边不会各做一半。
type inflight struct {
	state atomic.Int32
	done  chan any
}

const (
	flightPending int32 = iota
	flightStarted
	flightCancelled
)

func (f *inflight) flight() *inflight { return f }

func (f *inflight) arm() { f.done = make(chan any, 1) }

func (f *inflight) start() bool { return f.state.CompareAndSwap(flightPending, flightStarted) }

func (f *inflight) cancel() bool { return f.state.CompareAndSwap(flightPending, flightCancelled) }

// finish res 为 nil 表示处理过程中 panic
func (f *inflight) finish(res any) {
	select {
	case f.done <- res:
	default:
	}
}

type tracked interface {
	flight() *inflight
}

// 房间 actor 的请求与应答。同一房间的所有操作都在它的邮箱里串行执行。
type (
	joinRequest struct {
		inflight
		player Player
		then   JoinHook
	}
	joinResult struct {
		player   Player
		snapshot Snapshot
		closed   bool
	}

	updateRequest struct {
		inflight
		id    string
		patch Patch
	}
	updateResult struct{ update Update }

	leaveRequest struct {
		inflight
		id string
	}
	leaveResult struct {
		departure Departure
		ok        bool
	}

	getRequest struct {
		inflight
		id string
	}
	getResult struct {
		player Player
		state  State
		ok     bool
	}

	snapshotRequest struct{ inflight }
	rosterRequest   struct{ inflight }
	statsRequest    struct{ inflight }

	challengeRequest struct {
		inflight
		from, to string
	}
	challengeResult struct {
		challenge Challenge
		err       error
	}

	respondRequest struct {
		inflight
		to, from string
		accepted bool
	}
	endBattleRequest struct {
		inflight
		by, winner string
	}
	battleResult struct {
		battle Battle
		err    error
	}

	// expireChallenge 由挑战超时定时器投递，不需要应答
	expireChallenge struct {
		from, to string
		seq      uint64
	}

	reapRequest struct {
		inflight
		threshold time.Duration
	}
	reapResult struct{ reaped bool }
)

type roomActor struct {
	room *Room
	reg  *Registry
}

func (a *roomActor) Receive(ctx actor.Context) {
	log := a.reg.log
	switch ctx.Message().(type) {
	case *actor.Started:
		log.Debugf("room actor started: room=%s pid=%s", a.room.id, ctx.Self().Id)
		return
	case *actor.Restarting:
		log.Warnf("room actor restarting: room=%s", a.room.id)
		return
	case *actor.Stopping:
		log.Debugf("room actor stopping: room=%s players=%d", a.room.id, a.room.Len())
		return
	}

	req, ok := ctx.Message().(tracked)
	if !ok {
		a.handle(ctx)
		return
	}
	f := req.flight()
	if !f.start() {
		// 请求方已超时放弃
		log.Debugf("skip cancelled %T: room=%s", req, a.room.id)
		return
	}
	var res any
	defer func() { f.finish(res) }()
	res = a.handle(ctx)
	ctx.Respond(res)
}

// handle 执行一条房间操作，返回应答；不需要应答的消息返回 nil
func (a *roomActor) handle(ctx actor.Context) any {
	now := a.reg.now()
	log := a.reg.log

	switch msg := ctx.Message().(type) {
	case *joinRequest:
		if a.room.closed {
			return &joinResult{closed: true}
		}
		p := a.room.Join(msg.player, now)
		snap := a.room.Snapshot()
		if msg.then != nil {
			msg.then(p, snap)
		}
		return &joinResult{player: p, snapshot: snap}

	case *updateRequest:
		p, st := a.room.Update(msg.id, msg.patch, a.reg.opts.Policy, now)
		u := Update{Player: p, Status: st}
		if st == Updated {
			u.Peers = a.room.ids(msg.id)
		}
		return &updateResult{update: u}

	case *leaveRequest:
		d, ok := a.room.Leave(msg.id, now)
		return &leaveResult{departure: d, ok: ok}

	case *getRequest:
		p, ok := a.room.Get(msg.id)
		return &getResult{player: p, state: a.room.StateOf(msg.id), ok: ok}

	case *snapshotRequest:
		s := a.room.Snapshot()
		return &s

	case *rosterRequest:
		return a.room.Roster()

	case *statsRequest:
		st := a.room.Stats()
		return &st

	case *challengeRequest:
		c, err := a.room.Challenge(msg.from, msg.to, a.reg.opts.ChallengeRadius, now)
		if err == nil {
			a.armExpiry(ctx, c)
		}
		return &challengeResult{challenge: c, err: err}

	case *respondRequest:
		b, err := a.room.Respond(msg.to, msg.from, msg.accepted, now)
		return &battleResult{battle: b, err: err}

	case *endBattleRequest:
		b, err := a.room.EndBattle(msg.by, msg.winner, now)
		return &battleResult{battle: b, err: err}

	case *expireChallenge:
		if c, ok := a.room.Expire(msg.from, msg.to, msg.seq, now); ok {
			log.Infof("challenge expired: room=%s from=%s to=%s", a.room.id, c.FromID, c.ToID)
			a.reg.challengeExpired(c)
		}

	case *reapRequest:
		reaped := !a.room.closed && a.room.Reapable(now, msg.threshold)
		if reaped {
			a.room.closed = true
			log.Infof("room reaped: room=%s idle since %s", a.room.id,
				humanize.RelTime(a.room.lastActivity, now, "ago", "from now"))
		}
		return &reapResult{reaped: reaped}
	}
	return nil
}

func (a *roomActor) armExpiry(ctx actor.Context, c Challenge) {
	d := a.reg.opts.ChallengeTimeout
	if d <= 0 {
		return
	}
	self := ctx.Self()
	root := a.reg.system.Root
	msg := &expireChallenge{from: c.FromID, to: c.ToID, seq: c.seq}
	time.AfterFunc(d, func() { root.Send(self, msg) })
}
