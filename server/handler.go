package server

import (
	"errors"
	"time"

	"realmarena/config"
	"realmarena/protocol"
	"realmarena/session"
	"realmarena/world"
)

// 发给客户端的错误文本
const (
	MsgInvalidRoom     = "Invalid room identifier"
	MsgInvalidChat     = "Invalid chat message"
	MsgRoomUnavailable = "Room unavailable"
)

// Server 协议处理：把连接事件翻译成 Registry 操作和广播，自身不持有房间状态
type Server struct {
	cfg     *config.Config
	reg     *session.Registry
	reaper  *session.Reaper
	hub     *Hub
	metrics *Metrics
	opts    serverOptions
	clock   func() time.Time
}

type serverOptions struct {
	Codec         protocol.Codec
	ChatMaxLength int
	InboundRate   float64
	InboundBurst  int
}

func NewServer(cfg *config.Config, reg *session.Registry, reaper *session.Reaper, metrics *Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		reaper:  reaper,
		hub:     NewHub(),
		metrics: metrics,
		clock:   time.Now,
		opts: serverOptions{
			Codec:         protocol.ParseCodec(cfg.Codec),
			ChatMaxLength: cfg.ChatMaxLength,
			InboundRate:   cfg.InboundRate,
			InboundBurst:  cfg.InboundBurst,
		},
	}
	reg.SetExpiryHook(s.challengeExpired)
	reaper.OnReap = func(n int) {
		metrics.RoomsReaped.Add(float64(n))
		s.refreshGauges()
	}
	return s
}

// Hub 当前连接表
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) refreshGauges() {
	s.metrics.Rooms.Set(float64(s.reg.RoomCount()))
	s.metrics.Players.Set(float64(s.reg.PlayerCount()))
}

func (s *Server) drop(reason string) {
	s.metrics.Dropped.WithLabelValues(reason).Inc()
}

// dispatch 每种入站事件对应一个 Registry 操作
func (s *Server) dispatch(c *Client, in protocol.Inbound) {
	switch in.Event {
	case protocol.EvJoinGame:
		s.onJoin(c, in)
	case protocol.EvPlayerMove:
		s.onMove(c, in)
	case protocol.EvChatMessage:
		s.onChat(c, in)
	case protocol.EvChallengePlayer:
		s.onChallenge(c, in)
	case protocol.EvChallengeResponse:
		s.onChallengeResponse(c, in)
	case protocol.EvBattleEnd:
		s.onBattleEnd(c, in)
	case protocol.EvPing:
		c.Send(protocol.EvPong, nil)
	default:
		s.drop("unknown_event")
		return
	}
	s.metrics.EventsIn.WithLabelValues(in.Event).Inc()
}

// bind 解码并校验 data，失败时静默丢弃
func (s *Server) bind(in protocol.Inbound, v any) bool {
	if err := in.Bind(v); err != nil {
		s.drop("malformed")
		return false
	}
	return s.validate(in.Event, v)
}

func (s *Server) onJoin(c *Client, in protocol.Inbound) {
	var req protocol.JoinGame
	if err := in.Bind(&req); err != nil {
		s.drop("malformed")
		return
	}
	req.RoomID = protocol.NormalizeRoomID(req.RoomID)
	if !protocol.ValidRoomID(req.RoomID) {
		Log.Infof("join rejected: conn=%s invalid room id %q", c.id, req.RoomID)
		c.Send(protocol.EvError, MsgInvalidRoom)
		return
	}
	if !s.validate(in.Event, &req) {
		return
	}
	req.PlayerName = protocol.NormalizeName(req.PlayerName)
	if _, joined := s.reg.RoomOf(c.id); joined {
		s.drop("rejoin")
		return
	}

	// 快照和 playerJoined 在房间 actor 内投递，新玩家一定先收到自己的快照
	p, snap, err := s.reg.AddPlayer(req.RoomID, c.id, req.PlayerName, func(p session.Player, snap session.Snapshot) {
		c.Send(protocol.EvGameState, gameState(snap, p.ID))
		s.hub.Deliver(peers(snap, p.ID), protocol.EvPlayerJoined, protocol.PlayerJoined{
			PlayerID: p.ID,
			Player:   playerState(p),
		})
	})
	switch {
	case errors.Is(err, session.ErrAlreadyJoined):
		s.drop("rejoin")
		return
	case err != nil:
		Log.Errorf("join failed: room=%s conn=%s err=%v", req.RoomID, c.id, err)
		c.Send(protocol.EvError, MsgRoomUnavailable)
		return
	}
	s.refreshGauges()
	Log.Infof("player joined: room=%s conn=%s name=%s players=%d", req.RoomID, c.id, p.Name, snap.Count())
}

func (s *Server) validate(event string, v any) bool {
	if err := protocol.Validate(v); err != nil {
		Log.Debugf("invalid %s payload: fields=%v", event, protocol.FailedFields(err))
		s.drop("invalid")
		return false
	}
	return true
}

func (s *Server) onMove(c *Client, in protocol.Inbound) {
	var req protocol.PlayerMove
	if !s.bind(in, &req) {
		return
	}
	pos := world.Point{X: req.Position.X, Y: req.Position.Y}
	dir := world.ParseDirection(req.Direction)
	u := s.reg.UpdatePlayer(protocol.NormalizeRoomID(req.RoomID), c.id, session.MovePatch(pos, dir, req.Animate))
	switch u.Status {
	case session.Updated:
		s.hub.Deliver(u.Peers, protocol.EvPlayerUpdate, protocol.PlayerUpdate{
			PlayerID:  c.id,
			Position:  position(u.Player.Position),
			Direction: u.Player.Direction.String(),
			Animate:   u.Player.Animate,
		})
	case session.Unknown:
		// 断开竞争或未加入，静默忽略
	default:
		s.metrics.MovesRejected.WithLabelValues(u.Status.String()).Inc()
		Log.Debugf("move %s: conn=%s pos=%v", u.Status, c.id, pos)
	}
}

func (s *Server) onChat(c *Client, in protocol.Inbound) {
	var req protocol.ChatMessage
	if !s.bind(in, &req) {
		return
	}
	// 未加入或房间不符的连接一律静默忽略，长度检查在此之后
	roomID := protocol.NormalizeRoomID(req.RoomID)
	p, cur, ok := s.reg.GetPlayer(c.id)
	if !ok || cur != roomID {
		return
	}

	msg, verdict := protocol.CheckChatLimit(req.Message, s.opts.ChatMaxLength)
	switch verdict {
	case protocol.ChatEmpty:
		s.metrics.ChatRejected.Inc()
		return
	case protocol.ChatTooLong:
		s.metrics.ChatRejected.Inc()
		c.Send(protocol.EvError, MsgInvalidChat)
		return
	}
	roster := s.reg.Roster(roomID)
	ids := make([]string, 0, len(roster))
	for _, m := range roster {
		ids = append(ids, m.ID)
	}
	s.hub.Deliver(ids, protocol.EvChatMessage, protocol.ChatBroadcast{
		PlayerID:   c.id,
		PlayerName: p.Name,
		Message:    msg,
		Timestamp:  s.clock().UnixMilli(),
	})
	Log.Infof("[%s] %s: %s", roomID, p.Name, msg)
}

func (s *Server) onChallenge(c *Client, in protocol.Inbound) {
	var req protocol.ChallengePlayer
	if !s.bind(in, &req) {
		return
	}
	ch, err := s.reg.Challenge(protocol.NormalizeRoomID(req.RoomID), c.id, req.TargetID)
	if err != nil {
		Log.Debugf("challenge ignored: from=%s to=%s err=%v", c.id, req.TargetID, err)
		return
	}
	s.hub.Send(ch.ToID, protocol.EvChallenged, protocol.Challenged{FromID: ch.FromID, Name: ch.FromName})
	Log.Infof("challenge: room=%s from=%s to=%s", ch.RoomID, ch.FromID, ch.ToID)
}

func (s *Server) onChallengeResponse(c *Client, in protocol.Inbound) {
	var req protocol.ChallengeResponse
	if !s.bind(in, &req) {
		return
	}
	b, err := s.reg.RespondChallenge(protocol.NormalizeRoomID(req.RoomID), c.id, req.To, req.Accepted)
	if err != nil {
		Log.Debugf("challenge response ignored: from=%s to=%s err=%v", c.id, req.To, err)
		return
	}
	if !req.Accepted {
		// 拒绝只在客户端本地复位
		Log.Infof("challenge declined: from=%s by=%s", req.To, c.id)
		return
	}
	ids := b.Players[:]
	s.hub.Deliver(ids, protocol.EvBattleStart, protocol.BattleStart{Room: b.RoomID, Players: ids})
	Log.Infof("battle started: room=%s players=%v", b.RoomID, ids)
}

func (s *Server) onBattleEnd(c *Client, in protocol.Inbound) {
	var req protocol.BattleEnd
	if !s.bind(in, &req) {
		return
	}
	b, err := s.reg.EndBattle(protocol.NormalizeRoomID(req.RoomID), c.id, req.WinnerID)
	if err != nil {
		Log.Debugf("battle end ignored: conn=%s err=%v", c.id, err)
		return
	}
	ids := b.Players[:]
	s.hub.Deliver(ids, protocol.EvBattleEnded, protocol.BattleEnded{
		Room:     b.RoomID,
		Players:  ids,
		Reason:   protocol.ReasonFinished,
		WinnerID: b.WinnerID,
	})
	Log.Infof("battle ended: room=%s players=%v winner=%q", b.RoomID, ids, b.WinnerID)
}

// challengeExpired 运行在房间 actor 内，只做投递
func (s *Server) challengeExpired(ch session.Challenge) {
	s.hub.Deliver([]string{ch.FromID, ch.ToID}, protocol.EvChallengeCancelled, protocol.ChallengeCancelled{
		FromID: ch.FromID,
		ToID:   ch.ToID,
		Reason: protocol.ReasonTimeout,
	})
}

// disconnect 无论连接处于什么状态都无条件移除
func (s *Server) disconnect(c *Client) {
	s.hub.Remove(c.id)
	s.metrics.Connections.Dec()

	d, ok := s.reg.RemovePlayer(c.id)
	if !ok {
		Log.Debugf("disconnected before joining: conn=%s", c.id)
		return
	}
	s.hub.Deliver(d.Peers, protocol.EvPlayerLeft, protocol.PlayerLeft{PlayerID: c.id})

	rel := d.Release
	switch rel.Kind {
	case session.ReleaseChallenge:
		s.hub.Send(rel.Counterpart, protocol.EvChallengeCancelled, protocol.ChallengeCancelled{
			FromID: rel.Challenge.FromID,
			ToID:   rel.Challenge.ToID,
			Reason: protocol.ReasonDisconnect,
		})
	case session.ReleaseBattle:
		s.hub.Send(rel.Counterpart, protocol.EvBattleEnded, protocol.BattleEnded{
			Room:    rel.Battle.RoomID,
			Players: rel.Battle.Players[:],
			Reason:  protocol.ReasonDisconnect,
		})
	}
	Log.Infof("player left: room=%s conn=%s name=%s remaining=%d", d.RoomID, c.id, d.Player.Name, len(d.Peers))

	if len(d.Peers) == 0 {
		s.reaper.ReapRoom(d.RoomID)
	}
	s.refreshGauges()
}

func position(p world.Point) protocol.Position {
	return protocol.Position{X: p.X, Y: p.Y}
}

func playerState(p session.Player) protocol.PlayerState {
	return protocol.PlayerState{
		ID:         p.ID,
		Name:       p.Name,
		Position:   position(p.Position),
		Direction:  p.Direction.String(),
		Animate:    p.Animate,
		JoinedAt:   p.JoinedAt.UnixMilli(),
		LastUpdate: p.LastUpdate.UnixMilli(),
	}
}

func gameState(snap session.Snapshot, self string) protocol.GameState {
	gs := protocol.GameState{
		RoomID:      snap.RoomID,
		PlayerID:    self,
		Players:     make(map[string]protocol.PlayerState, len(snap.Players)),
		PlayerCount: snap.Count(),
	}
	for id, p := range snap.Players {
		gs.Players[id] = playerState(p)
	}
	return gs
}

func peers(snap session.Snapshot, except string) []string {
	out := make([]string, 0, len(snap.Players))
	for id := range snap.Players {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

// Shutdown 关闭全部连接；读协程退出时会各自走断开流程
func (s *Server) Shutdown() {
	s.hub.CloseAll()
}
