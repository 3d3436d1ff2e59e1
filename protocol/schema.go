package protocol

import (
	"github.com/invopop/jsonschema"
)

// Direction 事件方向
const (
	ClientToServer = "client->server"
	ServerToClient = "server->client"
)

// EventSpec 协议目录中的一项
type EventSpec struct {
	Name      string
	Direction string
	// Payload 为 nil 表示无 data
	Payload any
}

// Catalog 全部线上事件
var Catalog = []EventSpec{
	{EvJoinGame, ClientToServer, new(JoinGame)},
	{EvPlayerMove, ClientToServer, new(PlayerMove)},
	{EvChatMessage, ClientToServer, new(ChatMessage)},
	{EvChallengePlayer, ClientToServer, new(ChallengePlayer)},
	{EvChallengeResponse, ClientToServer, new(ChallengeResponse)},
	{EvBattleEnd, ClientToServer, new(BattleEnd)},
	{EvPing, ClientToServer, nil},

	{EvGameState, ServerToClient, new(GameState)},
	{EvPlayerJoined, ServerToClient, new(PlayerJoined)},
	{EvPlayerUpdate, ServerToClient, new(PlayerUpdate)},
	{EvPlayerLeft, ServerToClient, new(PlayerLeft)},
	{EvChatMessage, ServerToClient, new(ChatBroadcast)},
	{EvChallenged, ServerToClient, new(Challenged)},
	{EvChallengeCancelled, ServerToClient, new(ChallengeCancelled)},
	{EvBattleStart, ServerToClient, new(BattleStart)},
	{EvBattleEnded, ServerToClient, new(BattleEnded)},
	{EvError, ServerToClient, new(string)},
	{EvPong, ServerToClient, nil},
}

// EventSchema 单个事件的 JSON schema 文档
type EventSchema struct {
	Event     string             `json:"event"`
	Direction string             `json:"direction"`
	Data      *jsonschema.Schema `json:"data,omitempty"`
}

// Schema 由 Catalog 反射出的协议 schema，顺序与 Catalog 一致
func Schema() []EventSchema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	out := make([]EventSchema, 0, len(Catalog))
	for _, ev := range Catalog {
		doc := EventSchema{Event: ev.Name, Direction: ev.Direction}
		if ev.Payload != nil {
			doc.Data = reflector.Reflect(ev.Payload)
			doc.Data.Title = ev.Name
		}
		out = append(out, doc)
	}
	return out
}
