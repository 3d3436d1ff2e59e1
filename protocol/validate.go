package protocol

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxChatLength 聊天消息上限（去掉首尾空白后按字符计）
const MaxChatLength = 100

// MaxNameLength 玩家名保留的最大字符数，超出部分截掉
const MaxNameLength = 32

// roomIDPattern 0x 开头的 40 位十六进制；房间逻辑本身不关心它代表什么
var roomIDPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// validate 单例，validator 内部缓存结构体元数据且并发安全
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return ValidRoomID(fl.Field().String())
	})
	return v
}

// Validate 校验入站载荷的 validate 标签
func Validate(payload any) error {
	return validate.Struct(payload)
}

// NormalizeRoomID 去掉末尾的一个斜杠（客户端从 URL 路径里截取房间号）
func NormalizeRoomID(id string) string {
	return strings.TrimSuffix(id, "/")
}

// NormalizeName 去首尾空白，超过 MaxNameLength 个字符时截断。
// 名字不做拒绝，空名由服务端生成。
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxNameLength]))
}

// ValidRoomID 房间号格式检查
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ChatVerdict 聊天内容检查结果
type ChatVerdict int

const (
	ChatOK ChatVerdict = iota
	ChatEmpty
	ChatTooLong
)

// CheckChat 按 MaxChatLength 检查
func CheckChat(msg string) (string, ChatVerdict) {
	return CheckChatLimit(msg, MaxChatLength)
}

// CheckChatLimit 去首尾空白后检查长度，返回清理后的文本
func CheckChatLimit(msg string, limit int) (string, ChatVerdict) {
	msg = strings.TrimSpace(msg)
	switch n := utf8.RuneCountInString(msg); {
	case n == 0:
		return msg, ChatEmpty
	case n > limit:
		return msg, ChatTooLong
	default:
		return msg, ChatOK
	}
}

// FailedFields 校验失败的结构体字段名；err 不是校验错误时返回 nil
func FailedFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.StructField())
	}
	return fields
}
