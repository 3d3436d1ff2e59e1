package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/zap"

	"realmarena/world"
)

var (
	// ErrAlreadyJoined 该连接已经在某个房间里
	ErrAlreadyJoined = errors.New("connection already joined a room")
	// ErrRoomUnavailable 房间 actor 持续不可用（反复被回收或超时）
	ErrRoomUnavailable = errors.New("room unavailable")
)

const joinAttempts = 3

// Options Registry 参数，零值字段取默认
type Options struct {
	Clock            func() time.Time
	Generator        Generator
	Policy           *world.MovePolicy
	ChallengeRadius  float64
	ChallengeTimeout time.Duration
	RequestTimeout   time.Duration
	Logger           *zap.SugaredLogger
}

// Registry 全部房间。每个房间一个 actor，房间之间互不阻塞；
// rooms 表的锁只在创建和删除房间时持有。
type Registry struct {
	system *actor.ActorSystem
	opts   Options
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[string]*actor.PID

	// index 连接 id -> 房间 id
	index cmap.ConcurrentMap

	hookMu   sync.RWMutex
	onExpire func(Challenge)

	closed    chan struct{}
	closeOnce sync.Once
}

func NewRegistry(system *actor.ActorSystem, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Generator == nil {
		opts.Generator = NewRandomGenerator(world.Rect{
			Min:  world.Point{X: 400, Y: 200},
			Size: world.Size{W: 200, H: 200},
		}, 0)
	}
	if opts.ChallengeRadius <= 0 {
		opts.ChallengeRadius = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Registry{
		system: system,
		opts:   opts,
		log:    opts.Logger,
		rooms:  make(map[string]*actor.PID),
		index:  cmap.New(),
		closed: make(chan struct{}),
	}
}

func (r *Registry) now() time.Time { return r.opts.Clock() }

// SetExpiryHook 挑战超时时回调，运行在房间 actor 内，不能再同步请求同一房间
func (r *Registry) SetExpiryHook(fn func(Challenge)) {
	r.hookMu.Lock()
	r.onExpire = fn
	r.hookMu.Unlock()
}

func (r *Registry) challengeExpired(c Challenge) {
	r.hookMu.RLock()
	fn := r.onExpire
	r.hookMu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

func (r *Registry) lookup(roomID string) (*actor.PID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.rooms[roomID]
	return pid, ok
}

// ensure 返回房间 actor，不存在则创建
func (r *Registry) ensure(roomID string) *actor.PID {
	if pid, ok := r.lookup(roomID); ok {
		return pid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pid, ok := r.rooms[roomID]; ok {
		return pid
	}
	room := NewRoom(roomID, r.now())
	// producer 捕获同一个 Room，actor 重启后状态不丢
	props := actor.PropsFromProducer(func() actor.Actor {
		return &roomActor{room: room, reg: r}
	})
	pid := r.system.Root.Spawn(props)
	r.rooms[roomID] = pid
	r.log.Infof("room created: room=%s", roomID)
	return pid
}

// forget 仅当表中仍是同一个 actor 时才删除
func (r *Registry) forget(roomID string, pid *actor.PID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[roomID]; ok && cur == pid {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// request 带超时的请求；超时时 actor 还没开始执行就撤销，已经开始则等它做完。
func (r *Registry) request(pid *actor.PID, msg tracked) (any, error) {
	return r.call(pid, msg, true)
}

// call cancellable 为 false 时超时后也不撤销，一直等到执行完（或 Registry 关闭）
func (r *Registry) call(pid *actor.PID, msg tracked, cancellable bool) (any, error) {
	f := msg.flight()
	f.arm()
	res, err := r.system.Root.RequestFuture(pid, msg, r.opts.RequestTimeout).Result()
	if err == nil || errors.Is(err, actor.ErrDeadLetter) {
		return res, err
	}
	if cancellable && f.cancel() {
		return nil, err
	}
	r.log.Warnf("room actor slow: %T not done after %s, waiting", msg, r.opts.RequestTimeout)
	select {
	case res = <-f.done:
		if res == nil {
			return nil, fmt.Errorf("%T: %w", msg, ErrRoomUnavailable)
		}
		return res, nil
	case <-r.closed:
		return nil, err
	}
}

// CreateRoom 幂等：已存在则返回现有房间
func (r *Registry) CreateRoom(roomID string) (RoomStats, error) {
	for attempt := 0; attempt < joinAttempts; attempt++ {
		pid := r.ensure(roomID)
		res, err := r.request(pid, &statsRequest{})
		if errors.Is(err, actor.ErrDeadLetter) {
			r.forget(roomID, pid)
			continue
		}
		if err != nil {
			return RoomStats{}, fmt.Errorf("create room %s: %w", roomID, err)
		}
		return *res.(*RoomStats), nil
	}
	return RoomStats{}, ErrRoomUnavailable
}

// JoinHook 在房间 actor 内、加入完成后立即调用。
// 在这里投递快照，保证新玩家先收到快照，同房间后续的任何操作都排在它之后。
type JoinHook func(p Player, snap Snapshot)

// AddPlayer 把连接加入房间（必要时创建房间），name 为空时自动生成。
// 返回新玩家和加入后的完整快照；then 可为 nil。
func (r *Registry) AddPlayer(roomID, connID, name string, then JoinHook) (Player, Snapshot, error) {
	if !r.index.SetIfAbsent(connID, roomID) {
		return Player{}, Snapshot{}, ErrAlreadyJoined
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = r.opts.Generator.Name()
	}
	p := Player{
		ID:        connID,
		Name:      name,
		Position:  r.opts.Generator.Spawn(),
		Direction: world.DirDown,
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		pid := r.ensure(roomID)
		res, err := r.request(pid, &joinRequest{player: p, then: then})
		switch {
		case errors.Is(err, actor.ErrDeadLetter):
			r.forget(roomID, pid)
			continue
		case err != nil:
			// 只有 actor 确定不会执行这次加入时才会走到这里
			r.index.Remove(connID)
			return Player{}, Snapshot{}, fmt.Errorf("join room %s: %w", roomID, err)
		}
		jr := res.(*joinResult)
		if jr.closed {
			// 回收器刚判定删除这个房间，换一个新的
			r.forget(roomID, pid)
			continue
		}
		return jr.player, jr.snapshot, nil
	}
	r.index.Remove(connID)
	return Player{}, Snapshot{}, ErrRoomUnavailable
}

// roomOf 连接所在房间及其 actor
func (r *Registry) roomOf(connID string) (string, *actor.PID, bool) {
	v, ok := r.index.Get(connID)
	if !ok {
		return "", nil, false
	}
	roomID := v.(string)
	pid, ok := r.lookup(roomID)
	if !ok {
		return "", nil, false
	}
	return roomID, pid, true
}

// Update 一次位置上报的结果；Peers 只在 Updated 时填充，不含上报者本人
type Update struct {
	Player Player
	Peers  []string
	Status UpdateStatus
}

// OK 是否已应用
func (u Update) OK() bool { return u.Status == Updated }

// UpdatePlayer 合并移动字段。房间或玩家不存在、或连接不在该房间时返回 Unknown。
func (r *Registry) UpdatePlayer(roomID, connID string, patch Patch) Update {
	cur, pid, ok := r.roomOf(connID)
	if !ok || cur != roomID {
		return Update{Status: Unknown}
	}
	res, err := r.request(pid, &updateRequest{id: connID, patch: patch})
	if err != nil {
		r.log.Debugf("update dropped: room=%s conn=%s err=%v", roomID, connID, err)
		return Update{Status: Unknown}
	}
	return res.(*updateResult).update
}

// RemovePlayer 幂等；未知连接返回 false。
// 离开一定会在房间内执行完，索引项在确认之后才删除。
func (r *Registry) RemovePlayer(connID string) (Departure, bool) {
	v, ok := r.index.Get(connID)
	if !ok {
		return Departure{}, false
	}
	roomID := v.(string)
	pid, ok := r.lookup(roomID)
	if !ok {
		r.index.Remove(connID)
		return Departure{}, false
	}
	res, err := r.call(pid, &leaveRequest{id: connID}, false)
	r.index.Remove(connID)
	if err != nil {
		r.log.Warnf("leave failed: room=%s conn=%s err=%v", roomID, connID, err)
		return Departure{}, false
	}
	lr := res.(*leaveResult)
	return lr.departure, lr.ok
}

// GetPlayer 连接对应的玩家及其所在房间
func (r *Registry) GetPlayer(connID string) (Player, string, bool) {
	roomID, pid, ok := r.roomOf(connID)
	if !ok {
		return Player{}, "", false
	}
	res, err := r.request(pid, &getRequest{id: connID})
	if err != nil {
		return Player{}, "", false
	}
	gr := res.(*getResult)
	return gr.player, roomID, gr.ok
}

// StateOf 连接当前的挑战/对战状态，未知连接视为 Idle
func (r *Registry) StateOf(connID string) State {
	_, pid, ok := r.roomOf(connID)
	if !ok {
		return Idle{}
	}
	res, err := r.request(pid, &getRequest{id: connID})
	if err != nil {
		return Idle{}
	}
	return res.(*getResult).state
}

// RoomOf 连接所在房间 id
func (r *Registry) RoomOf(connID string) (string, bool) {
	v, ok := r.index.Get(connID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Roster 房间玩家列表，按 id 排序；房间不存在返回 nil
func (r *Registry) Roster(roomID string) []Player {
	pid, ok := r.lookup(roomID)
	if !ok {
		return nil
	}
	res, err := r.request(pid, &rosterRequest{})
	if err != nil {
		return nil
	}
	return res.([]Player)
}

// Snapshot 房间完整快照
func (r *Registry) Snapshot(roomID string) (Snapshot, bool) {
	pid, ok := r.lookup(roomID)
	if !ok {
		return Snapshot{}, false
	}
	res, err := r.request(pid, &snapshotRequest{})
	if err != nil {
		return Snapshot{}, false
	}
	return *res.(*Snapshot), true
}

// Challenge fromID 向同房间的 toID 发起挑战
func (r *Registry) Challenge(roomID, fromID, toID string) (Challenge, error) {
	cur, pid, ok := r.roomOf(fromID)
	if !ok || cur != roomID {
		return Challenge{}, ErrNotInRoom
	}
	res, err := r.request(pid, &challengeRequest{from: fromID, to: toID})
	if err != nil {
		return Challenge{}, err
	}
	cr := res.(*challengeResult)
	return cr.challenge, cr.err
}

// RespondChallenge toID 答复 fromID 的挑战；拒绝时返回零值 Battle
func (r *Registry) RespondChallenge(roomID, toID, fromID string, accepted bool) (Battle, error) {
	cur, pid, ok := r.roomOf(toID)
	if !ok || cur != roomID {
		return Battle{}, ErrNotInRoom
	}
	res, err := r.request(pid, &respondRequest{to: toID, from: fromID, accepted: accepted})
	if err != nil {
		return Battle{}, err
	}
	br := res.(*battleResult)
	return br.battle, br.err
}

// EndBattle 参战方 by 结束对战
func (r *Registry) EndBattle(roomID, by, winnerID string) (Battle, error) {
	cur, pid, ok := r.roomOf(by)
	if !ok || cur != roomID {
		return Battle{}, ErrNotInRoom
	}
	res, err := r.request(pid, &endBattleRequest{by: by, winner: winnerID})
	if err != nil {
		return Battle{}, err
	}
	br := res.(*battleResult)
	return br.battle, br.err
}

// RoomCount 当前房间数
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// PlayerCount 已加入房间的连接数
func (r *Registry) PlayerCount() int { return r.index.Count() }

func (r *Registry) pids() map[string]*actor.PID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*actor.PID, len(r.rooms))
	for id, pid := range r.rooms {
		out[id] = pid
	}
	return out
}

// ReapIdleRooms 删除空且空闲达到 threshold 的房间，返回删除数量。
// 判定在房间 actor 内完成，与同房间的加入请求互斥。
func (r *Registry) ReapIdleRooms(threshold time.Duration) int {
	n := 0
	for roomID, pid := range r.pids() {
		if r.reap(roomID, pid, threshold) {
			n++
		}
	}
	return n
}

// ReapRoom 只检查一个房间（玩家断开后房间变空时用）
func (r *Registry) ReapRoom(roomID string, threshold time.Duration) bool {
	pid, ok := r.lookup(roomID)
	if !ok {
		return false
	}
	return r.reap(roomID, pid, threshold)
}

func (r *Registry) reap(roomID string, pid *actor.PID, threshold time.Duration) bool {
	res, err := r.request(pid, &reapRequest{threshold: threshold})
	if errors.Is(err, actor.ErrDeadLetter) {
		r.forget(roomID, pid)
		return false
	}
	if err != nil {
		r.log.Warnf("reap skipped: room=%s err=%v", roomID, err)
		return false
	}
	if !res.(*reapResult).reaped {
		return false
	}
	r.forget(roomID, pid)
	r.system.Root.Stop(pid)
	return true
}

// Stats 诊断汇总
type Stats struct {
	Rooms       int         `json:"rooms"`
	Players     int         `json:"players"`
	Connections int         `json:"connections"`
	PerRoom     []RoomStats `json:"perRoom"`
}

func (r *Registry) Stats() Stats {
	st := Stats{Connections: r.index.Count()}
	for _, pid := range r.pids() {
		res, err := r.request(pid, &statsRequest{})
		if err != nil {
			continue
		}
		rs := *res.(*RoomStats)
		st.Rooms++
		st.Players += rs.Players
		st.PerRoom = append(st.PerRoom, rs)
	}
	sort.Slice(st.PerRoom, func(i, j int) bool { return st.PerRoom[i].ID < st.PerRoom[j].ID })
	return st
}

// Close 停止全部房间 actor
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*actor.PID)
	r.mu.Unlock()
	for _, pid := range rooms {
		_ = r.system.Root.StopFuture(pid).Wait()
	}
}
