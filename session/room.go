package session

import (
	"sort"
	"time"

	"realmarena/world"
)

// Room 单个房间的权威状态。本身不加锁，只由该房间的 actor 访问。
type Room struct {
	id           string
	players      map[string]*Player
	states       map[string]State
	createdAt    time.Time
	lastActivity time.Time
	seq          uint64
	// closed 已被回收器判定删除，之后的加入请求要换新房间
	closed bool
}

func NewRoom(id string, now time.Time) *Room {
	return &Room{
		id:           id,
		players:      make(map[string]*Player),
		states:       make(map[string]State),
		createdAt:    now,
		lastActivity: now,
	}
}

func (r *Room) ID() string { return r.id }

func (r *Room) Len() int { return len(r.players) }

func (r *Room) touch(now time.Time) { r.lastActivity = now }

// Join 插入玩家；同一连接重复加入时返回已有玩家
func (r *Room) Join(p Player, now time.Time) Player {
	if cur, ok := r.players[p.ID]; ok {
		return *cur
	}
	p.JoinedAt = now
	p.LastUpdate = now
	if p.Direction == world.DirNone {
		p.Direction = world.DirDown
	}
	r.players[p.ID] = &p
	r.touch(now)
	return p
}

// UpdateStatus 位置上报的处理结果
type UpdateStatus int

const (
	Updated UpdateStatus = iota
	// Unknown 房间或玩家不存在，静默忽略
	Unknown
	// Suspended 对战中不处理移动
	Suspended
	// Implausible 位移超出合理范围或压在障碍上
	Implausible
)

func (s UpdateStatus) String() string {
	switch s {
	case Updated:
		return "updated"
	case Unknown:
		return "unknown"
	case Suspended:
		return "suspended"
	case Implausible:
		return "implausible"
	}
	return "invalid"
}

// Update 合并上报字段。policy 为 nil 时不检查位移。
func (r *Room) Update(id string, patch Patch, policy *world.MovePolicy, now time.Time) (Player, UpdateStatus) {
	p, ok := r.players[id]
	if !ok {
		return Player{}, Unknown
	}
	if _, fighting := r.stateOf(id).(*InBattle); fighting {
		return *p, Suspended
	}
	if policy != nil && patch.Position != nil {
		if !policy.Allow(p.Position, *patch.Position, now.Sub(p.LastUpdate)) {
			return *p, Implausible
		}
	}
	p.apply(patch, now)
	r.touch(now)
	return *p, Updated
}

// Departure 玩家离开后的结果
type Departure struct {
	RoomID  string
	Player  Player
	Peers   []string
	Release Release
}

// Leave 移除玩家并清理其挑战/对战状态
func (r *Room) Leave(id string, now time.Time) (Departure, bool) {
	p, ok := r.players[id]
	if !ok {
		return Departure{}, false
	}
	rel := r.release(id)
	delete(r.players, id)
	r.touch(now)
	return Departure{RoomID: r.id, Player: *p, Peers: r.ids(""), Release: rel}, true
}

// Get 单个玩家的副本
func (r *Room) Get(id string) (Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// StateOf 玩家当前的流程状态
func (r *Room) StateOf(id string) State { return r.stateOf(id) }

// ids 按 id 排序，except 非空时排除该玩家
func (r *Room) ids(except string) []string {
	out := make([]string, 0, len(r.players))
	for id := range r.players {
		if id != except {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Roster 按 id 排序的玩家列表
func (r *Room) Roster() []Player {
	out := make([]Player, 0, len(r.players))
	for _, id := range r.ids("") {
		out = append(out, *r.players[id])
	}
	return out
}

// Snapshot 房间完整快照
type Snapshot struct {
	RoomID  string
	Players map[string]Player
}

func (s Snapshot) Count() int { return len(s.Players) }

func (r *Room) Snapshot() Snapshot {
	s := Snapshot{RoomID: r.id, Players: make(map[string]Player, len(r.players))}
	for id, p := range r.players {
		s.Players[id] = *p
	}
	return s
}

// RoomStats 诊断用的房间元数据
type RoomStats struct {
	ID           string    `json:"id"`
	Players      int       `json:"players"`
	Pending      int       `json:"pendingChallenges"`
	Battles      int       `json:"battles"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func (r *Room) Stats() RoomStats {
	st := RoomStats{
		ID:           r.id,
		Players:      len(r.players),
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}
	for id, s := range r.states {
		switch v := s.(type) {
		case *ChallengePending:
			if v.FromID == id {
				st.Pending++
			}
		case *InBattle:
			if v.Players[0] == id {
				st.Battles++
			}
		}
	}
	return st
}

// Reapable 房间为空且空闲时间达到 threshold
func (r *Room) Reapable(now time.Time, threshold time.Duration) bool {
	return len(r.players) == 0 && now.Sub(r.lastActivity) >= threshold
}

func distance(a, b *Player) float64 { return world.Distance(a.Position, b.Position) }
