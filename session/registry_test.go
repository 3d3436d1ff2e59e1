package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"realmarena/world"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixedGen 所有人出生在同一点，名字按顺序编号
type fixedGen struct {
	mu sync.Mutex
	n  int
	at world.Point
}

func (g *fixedGen) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("bot%d", g.n)
}

func (g *fixedGen) Spawn() world.Point { return g.at }

func newTestRegistry(t *testing.T, opts Options) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts.Clock = clock.Now
	if opts.Generator == nil {
		opts.Generator = &fixedGen{at: world.Point{X: 500, Y: 300}}
	}
	reg := NewRegistry(actor.NewActorSystem(actor.WithLoggerFactory(quietActorLog)), opts)
	t.Cleanup(reg.Close)
	return reg, clock
}

func quietActorLog(*actor.ActorSystem) *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore(), nil))
}

// checkIndex 索引和各房间玩家表必须一一对应
func checkIndex(t *testing.T, reg *Registry) {
	t.Helper()
	inRooms := map[string]string{}
	for roomID := range reg.pids() {
		for _, p := range reg.Roster(roomID) {
			if prev, dup := inRooms[p.ID]; dup {
				t.Fatalf("player %s in rooms %s and %s", p.ID, prev, roomID)
			}
			inRooms[p.ID] = roomID
		}
	}
	indexed := reg.index.Items()
	if len(indexed) != len(inRooms) {
		t.Fatalf("index has %d entries, rooms hold %d players", len(indexed), len(inRooms))
	}
	for conn, v := range indexed {
		if inRooms[conn] != v.(string) {
			t.Fatalf("index says %s in %v, rooms say %q", conn, v, inRooms[conn])
		}
	}
}

func TestAddPlayerCreatesRoomOnce(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{})

	p1, snap1, err := reg.AddPlayer("R1", "c1", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p1.Name != "bot1" || snap1.Count() != 1 {
		t.Errorf("first join %+v count %d", p1, snap1.Count())
	}
	_, snap2, err := reg.AddPlayer("R1", "c2", "  Ash  ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if snap2.Count() != 2 || snap2.Players["c2"].Name != "Ash" {
		t.Errorf("second snapshot %+v", snap2)
	}
	if st := reg.Stats(); st.Rooms != 1 || st.Players != 2 || st.Connections != 2 {
		t.Errorf("stats %+v", st)
	}
	if _, err := reg.CreateRoom("R1"); err != nil {
		t.Fatal(err)
	}
	if st := reg.Stats(); st.Rooms != 1 {
		t.Errorf("CreateRoom duplicated the room: %+v", st)
	}
	checkIndex(t, reg)
}

func TestAddPlayerTwiceRejected(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{})
	if _, _, err := reg.AddPlayer("R1", "c1", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.AddPlayer("R2", "c1", "", nil); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("err = %v", err)
	}
	if room, _ := reg.RoomOf("c1"); room != "R1" {
		t.Errorf("connection moved to %s", room)
	}
	checkIndex(t, reg)
}

func TestIndexConsistentUnderConcurrentJoinLeave(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			room := fmt.Sprintf("R%d", i%4)
			if _, _, err := reg.AddPlayer(room, conn, "", nil); err != nil {
				t.Error(err)
				return
			}
			if i%3 == 0 {
				reg.RemovePlayer(conn)
			}
		}(i)
	}
	wg.Wait()
	checkIndex(t, reg)
	if st := reg.Stats(); st.Players != 40-14 {
		t.Errorf("players = %d", st.Players)
	}
}

func TestUnknownOperationsAreNoops(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{})
	if u := reg.UpdatePlayer("R1", "ghost", MovePatch(world.Point{}, world.DirUp, true)); u.Status != Unknown {
		t.Errorf("update unknown: %v", u.Status)
	}
	if _, ok := reg.RemovePlayer("ghost"); ok {
		t.Error("remove unknown reported ok")
	}
	reg.AddPlayer("R1", "c1", "", nil)
	if u := reg.UpdatePlayer("R2", "c1", MovePatch(world.Point{}, world.DirUp, true)); u.Status != Unknown {
		t.Errorf("update with wrong room: %v", u.Status)
	}
	if _, ok := reg.RemovePlayer("c1"); !ok {
		t.Fatal("remove failed")
	}
	if _, ok := reg.RemovePlayer("c1"); ok {
		t.Error("second remove should be a no-op")
	}
	if st := reg.Stats(); st.Rooms != 1 || st.Players != 0 {
		t.Errorf("stats %+v", st)
	}
	checkIndex(t, reg)
}

func TestUpdatePlayerAppliesPolicy(t *testing.T) {
	policy := &world.MovePolicy{Step: 3, FrameRate: 60, Slack: 1.5}
	reg, clock := newTestRegistry(t, Options{Policy: policy})
	reg.AddPlayer("R1", "c1", "", nil)

	clock.Advance(100 * time.Millisecond)
	u := reg.UpdatePlayer("R1", "c1", MovePatch(world.Point{X: 500, Y: 270}, world.DirUp, true))
	if !u.OK() || u.Player.Position.Y != 270 || u.Player.Direction != world.DirUp {
		t.Fatalf("update %+v", u)
	}
	clock.Advance(100 * time.Millisecond)
	if u := reg.UpdatePlayer("R1", "c1", MovePatch(world.Point{X: 0, Y: 0}, world.DirUp, true)); u.Status != Implausible {
		t.Errorf("jump accepted: %v", u.Status)
	}
	got, room, ok := reg.GetPlayer("c1")
	if !ok || room != "R1" || got.Position.Y != 270 {
		t.Errorf("GetPlayer %+v %s %v", got, room, ok)
	}
}

func TestReaperBoundary(t *testing.T) {
	reg, clock := newTestRegistry(t, Options{})
	th := 10 * time.Minute
	reaper := NewReaper(reg, time.Hour, th)
	reaped := 0
	reaper.OnReap = func(n int) { reaped += n }

	reg.AddPlayer("R1", "c1", "", nil)
	reg.AddPlayer("R2", "c2", "", nil)
	clock.Advance(time.Minute)
	reg.RemovePlayer("c1")

	clock.Advance(th - time.Nanosecond)
	if n := reaper.ReapNow(); n != 0 {
		t.Fatalf("reaped %d rooms before threshold", n)
	}
	clock.Advance(time.Nanosecond)
	if n := reaper.ReapNow(); n != 1 {
		t.Fatalf("reaped %d rooms at threshold, want 1", n)
	}
	if n := reaper.ReapNow(); n != 0 {
		t.Errorf("second pass reaped %d", n)
	}
	if reaped != 1 {
		t.Errorf("OnReap total %d", reaped)
	}
	st := reg.Stats()
	if st.Rooms != 1 || st.PerRoom[0].ID != "R2" {
		t.Errorf("occupied room should survive: %+v", st)
	}

	// 同名房间可以重新创建
	if _, snap, err := reg.AddPlayer("R1", "c3", "", nil); err != nil || snap.Count() != 1 {
		t.Errorf("rejoin reaped room: %v %+v", err, snap)
	}
	checkIndex(t, reg)
}

func TestReaperThresholdHotUpdate(t *testing.T) {
	reg, clock := newTestRegistry(t, Options{})
	reaper := NewReaper(reg, time.Hour, 10*time.Minute)
	reg.CreateRoom("R1")
	clock.Advance(2 * time.Minute)
	if reaper.ReapNow() != 0 {
		t.Fatal("reaped early")
	}
	reaper.SetThreshold(time.Minute)
	if reaper.Threshold() != time.Minute || reaper.ReapNow() != 1 {
		t.Error("lowered threshold not applied")
	}
}

func TestChallengeFlowThroughRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{ChallengeTimeout: time.Hour})
	reg.AddPlayer("R1", "a", "", nil)
	reg.AddPlayer("R1", "b", "", nil)
	reg.AddPlayer("R2", "x", "", nil)

	if _, err := reg.Challenge("R1", "a", "x"); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("cross-room challenge: %v", err)
	}
	c, err := reg.Challenge("R1", "a", "b")
	if err != nil || c.FromName != "bot1" {
		t.Fatalf("challenge %+v %v", c, err)
	}
	b, err := reg.RespondChallenge("R1", "b", "a", true)
	if err != nil || b.RoomID != "R1" {
		t.Fatalf("accept %+v %v", b, err)
	}
	if _, ok := reg.StateOf("a").(*InBattle); !ok {
		t.Error("a not in battle")
	}
	if u := reg.UpdatePlayer("R1", "b", MovePatch(world.Point{X: 501, Y: 300}, world.DirRight, true)); u.Status != Suspended {
		t.Errorf("battle movement: %v", u.Status)
	}
	end, err := reg.EndBattle("R1", "a", "a")
	if err != nil || end.WinnerID != "a" {
		t.Fatalf("end %+v %v", end, err)
	}
	if _, ok := reg.StateOf("b").(Idle); !ok {
		t.Error("b not idle after battle")
	}
}

func TestPendingChallengeExpires(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{ChallengeTimeout: 20 * time.Millisecond})
	expired := make(chan Challenge, 1)
	reg.SetExpiryHook(func(c Challenge) { expired <- c })

	reg.AddPlayer("R1", "a", "", nil)
	reg.AddPlayer("R1", "b", "", nil)
	if _, err := reg.Challenge("R1", "a", "b"); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-expired:
		if c.FromID != "a" || c.ToID != "b" || c.RoomID != "R1" {
			t.Errorf("expired %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("challenge never expired")
	}
	if _, ok := reg.StateOf("b").(Idle); !ok {
		t.Error("b stuck after expiry")
	}
}

func TestDisconnectWhilePendingFreesTarget(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{ChallengeTimeout: time.Hour})
	reg.AddPlayer("R1", "a", "", nil)
	reg.AddPlayer("R1", "b", "", nil)
	reg.Challenge("R1", "a", "b")

	d, ok := reg.RemovePlayer("a")
	if !ok || d.RoomID != "R1" || d.Release.Kind != ReleaseChallenge || d.Release.Counterpart != "b" {
		t.Fatalf("departure %+v", d)
	}
	if _, ok := reg.StateOf("b").(Idle); !ok {
		t.Error("b stuck pending")
	}
	if _, err := reg.RespondChallenge("R1", "b", "a", true); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("answering a vanished challenger: %v", err)
	}
	checkIndex(t, reg)
}

// stall 在房间 actor 内阻塞，直到 release 被关闭
func stall(t *testing.T, reg *Registry, roomID, connID string) (release, done chan struct{}) {
	t.Helper()
	entered := make(chan struct{})
	release = make(chan struct{})
	done = make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := reg.AddPlayer(roomID, connID, "", func(Player, Snapshot) {
			close(entered)
			<-release
		})
		if err != nil {
			t.Errorf("stalled join %s: %v", connID, err)
		}
	}()
	<-entered
	return release, done
}

func TestStartedJoinCompletesPastTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{RequestTimeout: 30 * time.Millisecond})
	p, snap, err := reg.AddPlayer("R1", "slow", "", func(Player, Snapshot) {
		time.Sleep(150 * time.Millisecond)
	})
	if err != nil {
		t.Fatalf("join already running in the room must not report failure: %v", err)
	}
	if p.ID != "slow" || snap.Count() != 1 {
		t.Errorf("join result %+v count %d", p, snap.Count())
	}
	if room, ok := reg.RoomOf("slow"); !ok || room != "R1" {
		t.Errorf("RoomOf = %q %v", room, ok)
	}
	checkIndex(t, reg)

	if _, ok := reg.RemovePlayer("slow"); !ok {
		t.Fatal("slow player cannot be removed")
	}
	if n := reg.ReapIdleRooms(0); n != 1 {
		t.Errorf("reaped %d rooms", n)
	}
}

func TestQueuedJoinCancelledOnTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{RequestTimeout: 30 * time.Millisecond})
	release, done := stall(t, reg, "R1", "staller")

	if _, _, err := reg.AddPlayer("R1", "queued", "", nil); err == nil {
		t.Fatal("join stuck behind a busy room should time out")
	}
	if _, ok := reg.RoomOf("queued"); ok {
		t.Error("timed out join left an index entry")
	}
	close(release)
	<-done

	// Roster 排在被撤销的加入之后执行
	roster := reg.Roster("R1")
	if len(roster) != 1 || roster[0].ID != "staller" {
		t.Errorf("roster %+v", roster)
	}
	checkIndex(t, reg)
}

func TestLeaveCompletesPastTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t, Options{RequestTimeout: 30 * time.Millisecond})
	if _, _, err := reg.AddPlayer("R1", "a", "", nil); err != nil {
		t.Fatal(err)
	}
	release, done := stall(t, reg, "R1", "b")
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	d, ok := reg.RemovePlayer("a")
	if !ok || d.Player.ID != "a" || d.RoomID != "R1" {
		t.Fatalf("departure %+v ok=%v", d, ok)
	}
	if len(d.Peers) != 1 || d.Peers[0] != "b" {
		t.Errorf("peers to notify %v", d.Peers)
	}
	<-done
	if _, ok := reg.RoomOf("a"); ok {
		t.Error("index still holds departed player")
	}
	roster := reg.Roster("R1")
	if len(roster) != 1 || roster[0].ID != "b" {
		t.Errorf("roster %+v", roster)
	}
	checkIndex(t, reg)
}

func TestReapRoomOnlyTouchesThatRoom(t *testing.T) {
	reg, clock := newTestRegistry(t, Options{})
	for _, id := range []string{"R1", "R2"} {
		if _, err := reg.CreateRoom(id); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(time.Hour)
	if !reg.ReapRoom("R1", time.Minute) {
		t.Fatal("idle R1 not reaped")
	}
	if reg.ReapRoom("R1", time.Minute) {
		t.Error("second reap of R1 reported success")
	}
	if _, ok := reg.Snapshot("R2"); !ok {
		t.Error("R2 was removed by a targeted reap")
	}
	if reg.RoomCount() != 1 {
		t.Errorf("rooms = %d", reg.RoomCount())
	}
}
