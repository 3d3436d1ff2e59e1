package session

import (
	"math"
	"testing"
	"time"

	"realmarena/world"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func joined(r *Room, id string, pos world.Point) {
	r.Join(Player{ID: id, Name: "n-" + id, Position: pos}, t0)
}

func TestRoomJoinDefaults(t *testing.T) {
	r := NewRoom("R1", t0)
	p := r.Join(Player{ID: "a", Name: "alice", Position: world.Point{X: 450, Y: 250}}, t0.Add(time.Second))
	if p.Direction != world.DirDown || p.Animate {
		t.Errorf("spawn facing %v animate %v", p.Direction, p.Animate)
	}
	if !p.JoinedAt.Equal(t0.Add(time.Second)) || !p.LastUpdate.Equal(p.JoinedAt) {
		t.Errorf("timestamps %v %v", p.JoinedAt, p.LastUpdate)
	}
	again := r.Join(Player{ID: "a", Name: "other"}, t0.Add(2*time.Second))
	if again.Name != "alice" || r.Len() != 1 {
		t.Error("second join must not duplicate or overwrite the player")
	}
}

func TestRoomUpdateMerges(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{X: 100, Y: 100})

	now := t0.Add(200 * time.Millisecond)
	up := true
	p, st := r.Update("a", Patch{Animate: &up}, nil, now)
	if st != Updated || !p.Animate || p.Position.X != 100 {
		t.Fatalf("partial patch: %v %+v", st, p)
	}
	p, st = r.Update("a", MovePatch(world.Point{X: 103, Y: 100}, world.DirRight, true), nil, now)
	if st != Updated || p.Position.X != 103 || p.Direction != world.DirRight {
		t.Errorf("full patch: %v %+v", st, p)
	}
	if !r.lastActivity.Equal(now) {
		t.Error("update should bump lastActivity")
	}
}

func TestRoomUpdateUnknownIsNoop(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{})
	before := r.lastActivity
	if _, st := r.Update("ghost", MovePatch(world.Point{X: 1}, world.DirUp, true), nil, t0.Add(time.Minute)); st != Unknown {
		t.Errorf("status %v", st)
	}
	if _, ok := r.Leave("ghost", t0.Add(time.Minute)); ok {
		t.Error("leave of unknown player reported ok")
	}
	if !r.lastActivity.Equal(before) || r.Len() != 1 {
		t.Error("unknown operations must not mutate the room")
	}
}

func TestRoomUpdatePlausibility(t *testing.T) {
	policy := &world.MovePolicy{Step: 3, FrameRate: 60, Slack: 1.5, Size: world.DefaultPlayerSize}
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{X: 500, Y: 300})

	// 100ms: 3*60*0.1*1.5 + 6 = 33
	if _, st := r.Update("a", MovePatch(world.Point{X: 530, Y: 300}, world.DirRight, true), policy, t0.Add(100*time.Millisecond)); st != Updated {
		t.Errorf("30 units in 100ms rejected: %v", st)
	}
	p, st := r.Update("a", MovePatch(world.Point{X: 900, Y: 300}, world.DirRight, true), policy, t0.Add(200*time.Millisecond))
	if st != Implausible || p.Position.X != 530 {
		t.Errorf("teleport accepted: %v %+v", st, p)
	}
	if _, st := r.Update("a", MovePatch(world.Point{X: math.NaN()}, world.DirUp, true), policy, t0.Add(time.Second)); st != Implausible {
		t.Errorf("NaN accepted: %v", st)
	}
}

func TestChallengeDeclineReturnsToIdle(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{X: 500, Y: 300})
	joined(r, "b", world.Point{X: 530, Y: 340})

	c, err := r.Challenge("a", "b", 50, t0)
	if err != nil {
		t.Fatalf("challenge within range: %v", err)
	}
	if c.FromName != "n-a" || c.ToID != "b" {
		t.Errorf("challenge %+v", c)
	}
	if _, ok := r.StateOf("a").(*ChallengePending); !ok {
		t.Fatal("challenger should be pending")
	}
	if _, err := r.Respond("a", "b", true, t0); err != ErrNoChallenge {
		t.Error("only the target may answer")
	}
	if _, err := r.Respond("b", "a", false, t0); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok := r.StateOf(id).(Idle); !ok {
			t.Errorf("%s not idle after decline", id)
		}
		if _, st := r.Update(id, MovePatch(world.Point{X: 510, Y: 310}, world.DirUp, true), nil, t0); st != Updated {
			t.Errorf("%s movement blocked after decline: %v", id, st)
		}
	}
}

func TestChallengePreconditions(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{X: 0, Y: 0})
	joined(r, "b", world.Point{X: 30, Y: 40}) // 距离正好 50
	joined(r, "c", world.Point{X: 300, Y: 0})

	if _, err := r.Challenge("a", "a", 50, t0); err != ErrSelfChallenge {
		t.Errorf("self: %v", err)
	}
	if _, err := r.Challenge("a", "zz", 50, t0); err != ErrNotInRoom {
		t.Errorf("absent: %v", err)
	}
	if _, err := r.Challenge("a", "c", 50, t0); err != ErrOutOfRange {
		t.Errorf("far: %v", err)
	}
	if _, err := r.Challenge("a", "b", 50, t0); err != nil {
		t.Errorf("boundary distance should be allowed: %v", err)
	}
	if _, err := r.Challenge("c", "b", 1000, t0); err != ErrBusy {
		t.Errorf("busy target: %v", err)
	}
}

func TestBattleSuspendsMovementUntilEnd(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{})
	joined(r, "b", world.Point{X: 10})
	c, _ := r.Challenge("a", "b", 50, t0)
	b, err := r.Respond("b", "a", true, t0)
	if err != nil || b.Players != [2]string{"a", "b"} {
		t.Fatalf("accept: %+v %v", b, err)
	}
	if _, st := r.Update("a", MovePatch(world.Point{X: 1}, world.DirRight, true), nil, t0); st != Suspended {
		t.Errorf("movement in battle: %v", st)
	}
	if _, ok := r.Expire(c.FromID, c.ToID, c.seq, t0); ok {
		t.Error("accepted challenge must not expire")
	}
	if _, err := r.EndBattle("c", "", t0); err != ErrNotInBattle {
		t.Error("outsider ended battle")
	}
	end, err := r.EndBattle("b", "b", t0)
	if err != nil || end.WinnerID != "b" {
		t.Fatalf("end: %+v %v", end, err)
	}
	if _, st := r.Update("a", MovePatch(world.Point{X: 1}, world.DirRight, true), nil, t0); st != Updated {
		t.Errorf("movement after battle: %v", st)
	}
}

func TestEndBattleIgnoresForeignWinner(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{})
	joined(r, "b", world.Point{})
	r.Challenge("a", "b", 50, t0)
	r.Respond("b", "a", true, t0)
	end, _ := r.EndBattle("a", "mallory", t0)
	if end.WinnerID != "" {
		t.Errorf("winner %q should be dropped", end.WinnerID)
	}
}

func TestExpireMatchesSequence(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{})
	joined(r, "b", world.Point{})
	old, _ := r.Challenge("a", "b", 50, t0)
	r.Respond("b", "a", false, t0)
	fresh, _ := r.Challenge("a", "b", 50, t0)

	if _, ok := r.Expire(old.FromID, old.ToID, old.seq, t0); ok {
		t.Error("stale timer cancelled a newer challenge")
	}
	c, ok := r.Expire(fresh.FromID, fresh.ToID, fresh.seq, t0)
	if !ok || c.FromID != "a" {
		t.Fatal("current challenge should expire")
	}
	if _, ok := r.StateOf("b").(Idle); !ok {
		t.Error("target not idle after expiry")
	}
}

func TestLeaveReleasesCounterpart(t *testing.T) {
	r := NewRoom("R1", t0)
	joined(r, "a", world.Point{})
	joined(r, "b", world.Point{})
	joined(r, "c", world.Point{})
	r.Challenge("a", "b", 50, t0)

	d, ok := r.Leave("a", t0)
	if !ok || d.Release.Kind != ReleaseChallenge || d.Release.Counterpart != "b" {
		t.Fatalf("departure %+v", d)
	}
	if len(d.Peers) != 2 || d.Peers[0] != "b" || d.Peers[1] != "c" {
		t.Errorf("peers %v", d.Peers)
	}
	if _, ok := r.StateOf("b").(Idle); !ok {
		t.Error("target stuck pending after challenger left")
	}

	r.Challenge("b", "c", 50, t0)
	r.Respond("c", "b", true, t0)
	d, _ = r.Leave("c", t0)
	if d.Release.Kind != ReleaseBattle || d.Release.Counterpart != "b" {
		t.Errorf("battle release %+v", d.Release)
	}
	if _, ok := r.StateOf("b").(Idle); !ok {
		t.Error("survivor still in battle")
	}
}

func TestReapableBoundary(t *testing.T) {
	r := NewRoom("R1", t0)
	th := 10 * time.Minute
	if r.Reapable(t0.Add(th-time.Nanosecond), th) {
		t.Error("reapable before threshold")
	}
	if !r.Reapable(t0.Add(th), th) {
		t.Error("not reapable at threshold")
	}
	joined(r, "a", world.Point{})
	if r.Reapable(t0.Add(time.Hour), th) {
		t.Error("occupied room reapable")
	}
}

func TestStatsCountsFlows(t *testing.T) {
	r := NewRoom("R1", t0)
	for _, id := range []string{"a", "b", "c", "d"} {
		joined(r, id, world.Point{})
	}
	r.Challenge("a", "b", 50, t0)
	r.Challenge("c", "d", 50, t0)
	r.Respond("d", "c", true, t0)
	st := r.Stats()
	if st.Players != 4 || st.Pending != 1 || st.Battles != 1 {
		t.Errorf("stats %+v", st)
	}
}

func TestRandomGenerator(t *testing.T) {
	zone := world.Rect{Min: world.Point{X: 400, Y: 200}, Size: world.Size{W: 200, H: 200}}
	g1 := NewRandomGenerator(zone, 42)
	g2 := NewRandomGenerator(zone, 42)
	for i := 0; i < 200; i++ {
		n1, n2 := g1.Name(), g2.Name()
		if n1 != n2 {
			t.Fatal("same seed should give same names")
		}
		p := g1.Spawn()
		g2.Spawn()
		if p.X < 400 || p.X >= 600 || p.Y < 200 || p.Y >= 400 {
			t.Fatalf("spawn %v outside zone", p)
		}
		if p.X != math.Trunc(p.X) || p.Y != math.Trunc(p.Y) {
			t.Fatalf("spawn %v not integral", p)
		}
	}
}
