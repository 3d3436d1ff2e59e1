package session

import (
	"errors"
	"time"
)

// State 玩家在挑战/对战流程中的状态：Idle、*ChallengePending 或 *InBattle。
// 发起方和被挑战方共享同一个 *ChallengePending，对战双方共享同一个 *InBattle。
type State interface {
	isState()
}

// Idle 自由移动
type Idle struct{}

// ChallengePending 等待被挑战方答复
type ChallengePending struct {
	FromID string
	ToID   string
	Since  time.Time
	seq    uint64
}

// InBattle 对战中，移动上报被挂起
type InBattle struct {
	Players [2]string
	Since   time.Time
}

func (Idle) isState()              {}
func (*ChallengePending) isState() {}
func (*InBattle) isState()         {}

// 挑战被拒时的原因，只用于日志
var (
	ErrNotInRoom     = errors.New("player not in room")
	ErrSelfChallenge = errors.New("cannot challenge yourself")
	ErrBusy          = errors.New("player is not idle")
	ErrOutOfRange    = errors.New("target out of range")
	ErrNoChallenge   = errors.New("no matching pending challenge")
	ErrNotInBattle   = errors.New("player is not in battle")
)

// Challenge 一次挑战的对外描述
type Challenge struct {
	RoomID   string
	FromID   string
	ToID     string
	FromName string
	Since    time.Time
	seq      uint64
}

// Battle 一场对战的对外描述
type Battle struct {
	RoomID   string
	Players  [2]string
	WinnerID string
}

// Counterpart 返回另一位参战者
func (b Battle) Counterpart(id string) string {
	if b.Players[0] == id {
		return b.Players[1]
	}
	return b.Players[0]
}

// ReleaseKind 玩家离开时被打断的流程
type ReleaseKind int

const (
	ReleaseNone ReleaseKind = iota
	ReleaseChallenge
	ReleaseBattle
)

// Release 离开玩家留下的对手，需要通知
type Release struct {
	Kind      ReleaseKind
	Challenge Challenge
	Battle    Battle
	// Counterpart 仍在房间里的一方
	Counterpart string
}

func (r *Room) stateOf(id string) State {
	if st, ok := r.states[id]; ok {
		return st
	}
	return Idle{}
}

func (r *Room) setIdle(ids ...string) {
	for _, id := range ids {
		delete(r.states, id)
	}
}

func (r *Room) isIdle(id string) bool {
	_, ok := r.stateOf(id).(Idle)
	return ok
}

// Challenge Idle -> ChallengePending。双方都在房间、都空闲、距离不超过 radius。
func (r *Room) Challenge(fromID, toID string, radius float64, now time.Time) (Challenge, error) {
	from, ok := r.players[fromID]
	if !ok {
		return Challenge{}, ErrNotInRoom
	}
	to, ok := r.players[toID]
	if !ok {
		return Challenge{}, ErrNotInRoom
	}
	if fromID == toID {
		return Challenge{}, ErrSelfChallenge
	}
	if !r.isIdle(fromID) || !r.isIdle(toID) {
		return Challenge{}, ErrBusy
	}
	if distance(from, to) > radius {
		return Challenge{}, ErrOutOfRange
	}

	r.seq++
	p := &ChallengePending{FromID: fromID, ToID: toID, Since: now, seq: r.seq}
	r.states[fromID] = p
	r.states[toID] = p
	r.touch(now)
	return r.challengeOf(p), nil
}

func (r *Room) challengeOf(p *ChallengePending) Challenge {
	c := Challenge{RoomID: r.id, FromID: p.FromID, ToID: p.ToID, Since: p.Since, seq: p.seq}
	if pl, ok := r.players[p.FromID]; ok {
		c.FromName = pl.Name
	}
	return c
}

func (r *Room) pendingBetween(fromID, toID string) (*ChallengePending, bool) {
	p, ok := r.stateOf(toID).(*ChallengePending)
	if !ok || p.FromID != fromID || p.ToID != toID {
		return nil, false
	}
	return p, true
}

// Respond 被挑战方 toID 答复 fromID。接受进入 InBattle，拒绝回到 Idle。
// 只有被挑战方本人能答复。
func (r *Room) Respond(toID, fromID string, accepted bool, now time.Time) (Battle, error) {
	if _, ok := r.pendingBetween(fromID, toID); !ok {
		return Battle{}, ErrNoChallenge
	}
	r.touch(now)
	if !accepted {
		r.setIdle(fromID, toID)
		return Battle{}, nil
	}
	b := &InBattle{Players: [2]string{fromID, toID}, Since: now}
	r.states[fromID] = b
	r.states[toID] = b
	return Battle{RoomID: r.id, Players: b.Players}, nil
}

// EndBattle 任一参战方结束对战，winnerID 必须是参战者之一或为空
func (r *Room) EndBattle(by, winnerID string, now time.Time) (Battle, error) {
	b, ok := r.stateOf(by).(*InBattle)
	if !ok {
		return Battle{}, ErrNotInBattle
	}
	if winnerID != b.Players[0] && winnerID != b.Players[1] {
		winnerID = ""
	}
	r.setIdle(b.Players[0], b.Players[1])
	r.touch(now)
	return Battle{RoomID: r.id, Players: b.Players, WinnerID: winnerID}, nil
}

// Expire 超时取消挑战；seq 不匹配说明挑战已经结束或被新的取代
func (r *Room) Expire(fromID, toID string, seq uint64, now time.Time) (Challenge, bool) {
	p, ok := r.pendingBetween(fromID, toID)
	if !ok || p.seq != seq {
		return Challenge{}, false
	}
	c := r.challengeOf(p)
	r.setIdle(fromID, toID)
	r.touch(now)
	return c, true
}

// release 玩家离开时无条件清理其流程状态
func (r *Room) release(id string) Release {
	switch st := r.stateOf(id).(type) {
	case *ChallengePending:
		c := r.challengeOf(st)
		r.setIdle(st.FromID, st.ToID)
		other := st.ToID
		if other == id {
			other = st.FromID
		}
		return Release{Kind: ReleaseChallenge, Challenge: c, Counterpart: other}
	case *InBattle:
		b := Battle{RoomID: r.id, Players: st.Players}
		r.setIdle(st.Players[0], st.Players[1])
		return Release{Kind: ReleaseBattle, Battle: b, Counterpart: b.Counterpart(id)}
	default:
		return Release{}
	}
}
