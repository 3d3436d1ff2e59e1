package protocol

// 客户端 -> 服务端事件
const (
	EvJoinGame          = "joinGame"
	EvPlayerMove        = "playerMove"
	EvChatMessage       = "chatMessage"
	EvChallengePlayer   = "challengePlayer"
	EvChallengeResponse = "challengeResponse"
	EvBattleEnd         = "battleEnd"
	EvPing              = "ping"
)

// 服务端 -> 客户端事件
const (
	EvGameState          = "gameState"
	EvPlayerJoined       = "playerJoined"
	EvPlayerUpdate       = "playerUpdate"
	EvPlayerLeft         = "playerLeft"
	EvChallenged         = "challenged"
	EvChallengeCancelled = "challengeCancelled"
	EvBattleStart        = "battleStart"
	EvBattleEnded        = "battleEnded"
	EvError              = "error"
	EvPong               = "pong"
)

// 结束原因
const (
	ReasonTimeout    = "timeout"
	ReasonDisconnect = "disconnect"
	ReasonFinished   = "finished"
)

// Position 世界坐标
type Position struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// PlayerState 广播给客户端的玩家状态
type PlayerState struct {
	ID         string   `json:"id" msgpack:"id"`
	Name       string   `json:"name" msgpack:"name"`
	Position   Position `json:"position" msgpack:"position"`
	Direction  string   `json:"direction" msgpack:"direction"`
	Animate    bool     `json:"animate" msgpack:"animate"`
	JoinedAt   int64    `json:"joinedAt" msgpack:"joinedAt"`
	LastUpdate int64    `json:"lastUpdate" msgpack:"lastUpdate"`
}

// ---- 入站 ----

// JoinGame 加入房间；playerName 为空时由服务端生成，过长时截断
type JoinGame struct {
	RoomID     string `json:"roomId" msgpack:"roomId" validate:"roomid" jsonschema:"pattern=^0x[a-fA-F0-9]{40}$"`
	PlayerName string `json:"playerName,omitempty" msgpack:"playerName,omitempty"`
}

// PlayerMove 位置上报（世界坐标）
type PlayerMove struct {
	RoomID    string   `json:"roomId" msgpack:"roomId"`
	Position  Position `json:"position" msgpack:"position"`
	Direction string   `json:"direction" msgpack:"direction" validate:"omitempty,oneof=up down left right" jsonschema:"enum=up,enum=down,enum=left,enum=right"`
	Animate   bool     `json:"animate" msgpack:"animate"`
}

// ChatMessage 入站聊天
type ChatMessage struct {
	RoomID  string `json:"roomId" msgpack:"roomId"`
	Message string `json:"message" msgpack:"message" jsonschema:"minLength=1,maxLength=100"`
}

// ChallengePlayer 向同房间玩家发起挑战
type ChallengePlayer struct {
	RoomID   string `json:"roomId" msgpack:"roomId"`
	TargetID string `json:"targetId" msgpack:"targetId" validate:"required"`
}

// ChallengeResponse 被挑战方的答复，To 为挑战发起者
type ChallengeResponse struct {
	RoomID   string `json:"roomId" msgpack:"roomId"`
	To       string `json:"to" msgpack:"to" validate:"required"`
	Accepted bool   `json:"accepted" msgpack:"accepted"`
}

// BattleEnd 任一参战方结束对战
type BattleEnd struct {
	RoomID   string `json:"roomId" msgpack:"roomId"`
	WinnerID string `json:"winnerId,omitempty" msgpack:"winnerId,omitempty"`
}

// ---- 出站 ----

// GameState 新玩家收到的完整房间快照；PlayerID 是接收者自己的 id
type GameState struct {
	RoomID      string                 `json:"roomId" msgpack:"roomId"`
	PlayerID    string                 `json:"playerId" msgpack:"playerId"`
	Players     map[string]PlayerState `json:"players" msgpack:"players"`
	PlayerCount int                    `json:"playerCount" msgpack:"playerCount"`
}

// PlayerJoined 通知房间内其他人
type PlayerJoined struct {
	PlayerID string      `json:"playerId" msgpack:"playerId"`
	Player   PlayerState `json:"player" msgpack:"player"`
}

// PlayerUpdate 移动增量，不回显给发送者
type PlayerUpdate struct {
	PlayerID  string   `json:"playerId" msgpack:"playerId"`
	Position  Position `json:"position" msgpack:"position"`
	Direction string   `json:"direction" msgpack:"direction"`
	Animate   bool     `json:"animate" msgpack:"animate"`
}

// PlayerLeft 玩家断开
type PlayerLeft struct {
	PlayerID string `json:"playerId" msgpack:"playerId"`
}

// ChatBroadcast 聊天广播（包括发送者自己）
type ChatBroadcast struct {
	PlayerID   string `json:"playerId" msgpack:"playerId"`
	PlayerName string `json:"playerName" msgpack:"playerName"`
	Message    string `json:"message" msgpack:"message"`
	Timestamp  int64  `json:"timestamp" msgpack:"timestamp"`
}

// Challenged 只发给被挑战者
type Challenged struct {
	FromID string `json:"fromId" msgpack:"fromId"`
	Name   string `json:"name" msgpack:"name"`
}

// ChallengeCancelled 挑战超时或一方离开
type ChallengeCancelled struct {
	FromID string `json:"fromId" msgpack:"fromId"`
	ToID   string `json:"toId" msgpack:"toId"`
	Reason string `json:"reason" msgpack:"reason"`
}

// BattleStart 双方都会收到
type BattleStart struct {
	Room    string   `json:"room" msgpack:"room"`
	Players []string `json:"players" msgpack:"players"`
}

// BattleEnded 对战结束
type BattleEnded struct {
	Room     string   `json:"room" msgpack:"room"`
	Players  []string `json:"players" msgpack:"players"`
	Reason   string   `json:"reason" msgpack:"reason"`
	WinnerID string   `json:"winnerId,omitempty" msgpack:"winnerId,omitempty"`
}
