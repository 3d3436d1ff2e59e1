package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"realmarena/config"
	"realmarena/protocol"
	"realmarena/server"
	"realmarena/world"
)

// 压测/联调机器人：加入房间后随机走动，按参考客户端的方式做本地预测与节流上报
func main() {
	var (
		addr     = flag.String("url", "ws://localhost:8080/ws", "server websocket url")
		roomID   = flag.String("room", "0x0000000000000000000000000000000000000001", "room id to join")
		name     = flag.String("name", "", "player name; server generates one when empty")
		codecArg = flag.String("codec", "json", "wire codec: json or msgpack")
		cfgPath  = flag.String("config", "", "server JSON config; movement and map settings are read from it")
		mapFile  = flag.String("map", "", "tile map for local collision, overrides the config")
		duration = flag.Duration("duration", time.Minute, "how long to walk before leaving")
	)
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err == nil {
		if *mapFile != "" {
			cfg.MapFile = *mapFile
		}
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := server.InitLogger(server.LogOptions{Level: "info", Stderr: true}); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	log := server.Log.With("bot", *name)

	grid, err := cfg.LoadGrid()
	if err != nil {
		log.Fatalf("load map: %v", err)
	}

	codec := protocol.ParseCodec(*codecArg)
	u, err := url.Parse(*addr)
	if err != nil {
		log.Fatalf("bad url: %v", err)
	}
	q := u.Query()
	q.Set("codec", codec.String())
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial %s: %v", u, err)
	}
	defer ws.Close()

	b := &bot{
		ws:    ws,
		codec: codec,
		room:  *roomID,
		grid:  grid,
		moves: cfg.MoverConfig(world.Point{X: 488, Y: 254}),
		peers: map[string]world.Point{},
	}
	inbound := make(chan protocol.Inbound, 64)
	go b.readLoop(inbound)

	if err := b.send(protocol.EvJoinGame, protocol.JoinGame{RoomID: *roomID, PlayerName: *name}); err != nil {
		log.Fatalf("join: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	deadline := time.After(*duration)
	frame := time.NewTicker(time.Duration(float64(time.Second) / cfg.FrameRate))
	defer frame.Stop()
	report := time.NewTicker(2 * time.Second)
	defer report.Stop()

	dir := world.DirNone
	turnAt := time.Now()
	for {
		select {
		case <-quit:
			return
		case <-deadline:
			log.Infof("done after %s", *duration)
			return
		case in, ok := <-inbound:
			if !ok {
				log.Warn("connection closed by server")
				return
			}
			b.handle(in)
		case now := <-frame.C:
			if b.mover == nil {
				continue
			}
			if b.concede != nil && now.After(b.concedeAt) {
				_ = b.send(protocol.EvBattleEnd, *b.concede)
				b.concede = nil
			}
			if now.After(turnAt) {
				// 每 0.5~2 秒换一次方向，五分之一概率停下
				dir = world.Direction(rand.IntN(5))
				turnAt = now.Add(500*time.Millisecond + rand.N(1500*time.Millisecond))
			}
			b.walk(dir, now)
		case <-report.C:
			if b.mover == nil {
				continue
			}
			me := b.mover.WorldPosition()
			log.Infof("at (%.0f,%.0f) facing %s, %d peers", me.X, me.Y, b.mover.Facing(), len(b.peers))
			for id, p := range b.peers {
				r := b.mover.RenderPosition(p)
				log.Debugf("peer %s world=(%.0f,%.0f) screen=(%.0f,%.0f)", id, p.X, p.Y, r.X, r.Y)
			}
		}
	}
}

type bot struct {
	ws    *websocket.Conn
	codec protocol.Codec
	room  string
	self  string
	grid  *world.Grid
	moves world.MoverConfig
	mover *world.Mover
	peers map[string]world.Point
	// 对战中待发送的 battleEnd；所有写操作都在主循环
	concede   *protocol.BattleEnd
	concedeAt time.Time
}

func (b *bot) send(event string, data any) error {
	raw, err := b.codec.Encode(event, data)
	if err != nil {
		return err
	}
	frame := websocket.TextMessage
	if b.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	return b.ws.WriteMessage(frame, raw)
}

func (b *bot) readLoop(out chan<- protocol.Inbound) {
	defer close(out)
	for {
		mt, raw, err := b.ws.ReadMessage()
		if err != nil {
			return
		}
		in, err := protocol.Decode(raw, mt == websocket.BinaryMessage)
		if err != nil {
			server.Log.Warnf("undecodable frame: %v", err)
			continue
		}
		out <- in
	}
}

func (b *bot) walk(dir world.Direction, now time.Time) {
	var (
		rep world.MoveReport
		ok  bool
	)
	if dir == world.DirNone {
		rep, ok = b.mover.Halt()
	} else {
		rep, _, ok = b.mover.Step(dir, now)
	}
	if !ok {
		return
	}
	err := b.send(protocol.EvPlayerMove, protocol.PlayerMove{
		RoomID:    b.room,
		Position:  protocol.Position{X: rep.Position.X, Y: rep.Position.Y},
		Direction: rep.Direction.String(),
		Animate:   rep.Animate,
	})
	if err != nil {
		server.Log.Warnf("send move: %v", err)
	}
}

func (b *bot) handle(in protocol.Inbound) {
	log := server.Log
	switch in.Event {
	case protocol.EvGameState:
		var gs protocol.GameState
		if err := in.Bind(&gs); err != nil {
			log.Warnf("gameState: %v", err)
			return
		}
		b.self = gs.PlayerID
		me, ok := gs.Players[gs.PlayerID]
		if !ok {
			log.Warnf("gameState without own player %s", gs.PlayerID)
			return
		}
		b.mover = world.NewMover(b.grid, b.moves, world.Point{})
		b.mover.PlaceAt(world.Point{X: me.Position.X, Y: me.Position.Y})
		for id, p := range gs.Players {
			if id != b.self {
				b.peers[id] = world.Point{X: p.Position.X, Y: p.Position.Y}
			}
		}
		log.Infof("joined %s as %s (%s), %d players", gs.RoomID, me.Name, b.self, gs.PlayerCount)
	case protocol.EvPlayerJoined:
		var pj protocol.PlayerJoined
		if in.Bind(&pj) == nil {
			b.peers[pj.PlayerID] = world.Point{X: pj.Player.Position.X, Y: pj.Player.Position.Y}
		}
	case protocol.EvPlayerUpdate:
		var up protocol.PlayerUpdate
		if in.Bind(&up) == nil {
			b.peers[up.PlayerID] = world.Point{X: up.Position.X, Y: up.Position.Y}
		}
	case protocol.EvPlayerLeft:
		var pl protocol.PlayerLeft
		if in.Bind(&pl) == nil {
			delete(b.peers, pl.PlayerID)
		}
	case protocol.EvChatMessage:
		var chat protocol.ChatBroadcast
		if in.Bind(&chat) == nil {
			log.Infof("[chat] %s: %s", chat.PlayerName, chat.Message)
		}
	case protocol.EvChallenged:
		var ch protocol.Challenged
		if in.Bind(&ch) != nil {
			return
		}
		accept := rand.IntN(2) == 0
		log.Infof("challenged by %s, accepting=%v", ch.Name, accept)
		_ = b.send(protocol.EvChallengeResponse, protocol.ChallengeResponse{RoomID: b.room, To: ch.FromID, Accepted: accept})
	case protocol.EvBattleStart:
		var bs protocol.BattleStart
		if in.Bind(&bs) != nil {
			return
		}
		// 简化：3 秒后由本方结束，对手获胜
		winner := ""
		for _, id := range bs.Players {
			if id != b.self {
				winner = id
			}
		}
		b.concede = &protocol.BattleEnd{RoomID: b.room, WinnerID: winner}
		b.concedeAt = time.Now().Add(3 * time.Second)
		log.Info("battle started, conceding in 3s")
	case protocol.EvBattleEnded:
		b.concede = nil
		log.Info("battle ended")
	case protocol.EvChallengeCancelled:
		log.Info("challenge cancelled")
	case protocol.EvError:
		var msg string
		_ = in.Bind(&msg)
		log.Warnf("server error: %s", msg)
	case protocol.EvPong:
	default:
		log.Debugf("ignored %s", in.Event)
	}
}
