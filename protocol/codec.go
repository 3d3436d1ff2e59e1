package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec 出站编码方式，由客户端在 /ws?codec= 中选择
type Codec int

const (
	CodecJSON Codec = iota
	CodecMsgpack
)

// ParseCodec 未知值回落到 JSON
func ParseCodec(s string) Codec {
	switch strings.ToLower(s) {
	case "msgpack", "mp":
		return CodecMsgpack
	default:
		return CodecJSON
	}
}

func (c Codec) String() string {
	if c == CodecMsgpack {
		return "msgpack"
	}
	return "json"
}

// Binary msgpack 走二进制帧，JSON 走文本帧
func (c Codec) Binary() bool { return c == CodecMsgpack }

// Envelope 所有消息的外层结构
type Envelope struct {
	Event string `json:"event" msgpack:"event"`
	Data  any    `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Encode 编码一条出站消息
func (c Codec) Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event, Data: data}
	if c == CodecMsgpack {
		return msgpack.Marshal(&env)
	}
	return json.Marshal(&env)
}

var (
	ErrMalformed = errors.New("malformed envelope")
	ErrNoData    = errors.New("envelope has no data")
)

// Inbound 已拆出事件名、尚未解码 data 的入站消息
type Inbound struct {
	Event  string
	data   []byte
	binary bool
}

// Decode 拆出事件名；data 延迟到 Bind 时按具体类型解码
func Decode(raw []byte, binary bool) (Inbound, error) {
	if binary {
		var env struct {
			Event string             `msgpack:"event"`
			Data  msgpack.RawMessage `msgpack:"data"`
		}
		if err := msgpack.Unmarshal(raw, &env); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if env.Event == "" {
			return Inbound{}, ErrMalformed
		}
		return Inbound{Event: env.Event, data: env.Data, binary: true}, nil
	}

	if !gjson.ValidBytes(raw) {
		return Inbound{}, ErrMalformed
	}
	ev := gjson.GetBytes(raw, "event")
	if ev.Type != gjson.String || ev.Str == "" {
		return Inbound{}, ErrMalformed
	}
	in := Inbound{Event: ev.Str}
	if d := gjson.GetBytes(raw, "data"); d.Exists() && d.Type != gjson.Null {
		in.data = []byte(d.Raw)
	}
	return in, nil
}

// HasData 是否携带 data
func (in Inbound) HasData() bool { return len(in.data) > 0 }

// Bind 把 data 解码到 v
func (in Inbound) Bind(v any) error {
	if !in.HasData() {
		return ErrNoData
	}
	if in.binary {
		return msgpack.Unmarshal(in.data, v)
	}
	return json.Unmarshal(in.data, v)
}
