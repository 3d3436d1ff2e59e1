package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"realmarena/world"
)

// Duration JSON 中写成 "10m"、"30s" 这样的字符串
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// 也接受纳秒整数
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		d.Duration = time.Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Config 服务端全部可调参数
type Config struct {
	Addr      string `json:"addr"`
	LogFile   string `json:"log_file"`
	LogLevel  string `json:"log_level"`
	LogStderr bool   `json:"log_stderr"`

	// 空闲房间回收
	IdleThreshold Duration `json:"idle_threshold"`
	ReapInterval  Duration `json:"reap_interval"`

	// 挑战
	ChallengeRadius  float64  `json:"challenge_radius"`
	ChallengeTimeout Duration `json:"challenge_timeout"`

	// 出生区域 [SpawnMinX, SpawnMaxX) x [SpawnMinY, SpawnMaxY)
	SpawnMinX float64 `json:"spawn_min_x"`
	SpawnMinY float64 `json:"spawn_min_y"`
	SpawnMaxX float64 `json:"spawn_max_x"`
	SpawnMaxY float64 `json:"spawn_max_y"`

	ChatMaxLength int `json:"chat_max_length"`

	// 移动
	Step         float64  `json:"step"`
	FrameRate    float64  `json:"frame_rate"`
	SyncInterval Duration `json:"sync_interval"`
	MoveSlack    float64  `json:"move_slack"`
	PlayerWidth  float64  `json:"player_width"`
	PlayerHeight float64  `json:"player_height"`

	// 碰撞地图，MapFile 为空时不做网格检查
	MapFile     string  `json:"map_file"`
	MapWidth    int     `json:"map_width"`
	BlockedTile int     `json:"blocked_tile"`
	CellSize    float64 `json:"cell_size"`

	RequestTimeout Duration `json:"request_timeout"`
	InboundRate    float64  `json:"inbound_rate"`
	InboundBurst   int      `json:"inbound_burst"`
	Codec          string   `json:"codec"`
}

// Default 参考配置
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogFile:  "app.log",
		LogLevel: "debug",

		IdleThreshold: Duration{10 * time.Minute},
		ReapInterval:  Duration{5 * time.Minute},

		ChallengeRadius:  50,
		ChallengeTimeout: Duration{30 * time.Second},

		SpawnMinX: 400,
		SpawnMinY: 200,
		SpawnMaxX: 600,
		SpawnMaxY: 400,

		ChatMaxLength: 100,

		Step:         world.DefaultStep,
		FrameRate:    world.DefaultFrameRate,
		SyncInterval: Duration{world.DefaultSyncInterval},
		MoveSlack:    1.5,
		PlayerWidth:  world.DefaultPlayerSize.W,
		PlayerHeight: world.DefaultPlayerSize.H,

		MapWidth:    world.DefaultGridWidth,
		BlockedTile: world.DefaultBlockedTile,
		CellSize:    world.DefaultCellSize,

		RequestTimeout: Duration{2 * time.Second},
		InboundRate:    60,
		InboundBurst:   30,
		Codec:          "json",
	}
}

// LoadFile 在默认值上叠加 JSON 文件；文件不存在时返回默认值
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load 默认值 -> -config 指定的 JSON 文件 -> 命令行参数
func Load(name string, args []string) (*Config, error) {
	// 第一遍只为拿到 -config
	probe := flag.NewFlagSet(name, flag.ContinueOnError)
	probe.SetOutput(io.Discard)
	path := bind(probe, Default())
	if err := probe.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := LoadFile(*path)
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bind(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bind(fs *flag.FlagSet, c *Config) *string {
	path := fs.String("config", "", "optional JSON config file")
	fs.StringVar(&c.Addr, "addr", c.Addr, "server listen address, e.g. :8080")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "log file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug|info|warn|error")
	fs.BoolVar(&c.LogStderr, "log-stderr", c.LogStderr, "also write logs to stderr")
	fs.DurationVar(&c.IdleThreshold.Duration, "idle-threshold", c.IdleThreshold.Duration, "empty room idle time before reaping")
	fs.DurationVar(&c.ReapInterval.Duration, "reap-interval", c.ReapInterval.Duration, "reaper period")
	fs.Float64Var(&c.ChallengeRadius, "challenge-radius", c.ChallengeRadius, "max distance between challenger and target")
	fs.DurationVar(&c.ChallengeTimeout.Duration, "challenge-timeout", c.ChallengeTimeout.Duration, "pending challenge lifetime")
	fs.StringVar(&c.MapFile, "map", c.MapFile, "collision map file (flat JSON array)")
	fs.Float64Var(&c.MoveSlack, "move-slack", c.MoveSlack, "movement plausibility slack factor")
	fs.DurationVar(&c.RequestTimeout.Duration, "request-timeout", c.RequestTimeout.Duration, "room actor request timeout")
	fs.Float64Var(&c.InboundRate, "inbound-rate", c.InboundRate, "per-connection inbound events per second")
	fs.IntVar(&c.InboundBurst, "inbound-burst", c.InboundBurst, "per-connection inbound burst")
	fs.StringVar(&c.Codec, "codec", c.Codec, "default outbound codec: json|msgpack")
	return path
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	var errs []string
	if c.IdleThreshold.Duration <= 0 {
		errs = append(errs, "idle_threshold must be positive")
	}
	if c.ReapInterval.Duration <= 0 {
		errs = append(errs, "reap_interval must be positive")
	}
	if c.ChallengeRadius <= 0 {
		errs = append(errs, "challenge_radius must be positive")
	}
	if c.ChallengeTimeout.Duration <= 0 {
		errs = append(errs, "challenge_timeout must be positive")
	}
	if c.SpawnMaxX <= c.SpawnMinX || c.SpawnMaxY <= c.SpawnMinY {
		errs = append(errs, "spawn zone is empty")
	}
	if c.ChatMaxLength <= 0 {
		errs = append(errs, "chat_max_length must be positive")
	}
	if c.Step <= 0 || c.FrameRate <= 0 || c.MoveSlack <= 0 {
		errs = append(errs, "step, frame_rate and move_slack must be positive")
	}
	if c.SyncInterval.Duration <= 0 {
		errs = append(errs, "sync_interval must be positive")
	}
	if c.MapWidth <= 0 || c.CellSize <= 0 {
		errs = append(errs, "map_width and cell_size must be positive")
	}
	if c.RequestTimeout.Duration <= 0 {
		errs = append(errs, "request_timeout must be positive")
	}
	if c.InboundRate <= 0 || c.InboundBurst <= 0 {
		errs = append(errs, "inbound_rate and inbound_burst must be positive")
	}
	switch strings.ToLower(c.Codec) {
	case "json", "msgpack", "mp":
	default:
		errs = append(errs, fmt.Sprintf("unknown codec %q", c.Codec))
	}
	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

// SpawnZone 出生矩形
func (c *Config) SpawnZone() world.Rect {
	return world.Rect{
		Min:  world.Point{X: c.SpawnMinX, Y: c.SpawnMinY},
		Size: world.Size{W: c.SpawnMaxX - c.SpawnMinX, H: c.SpawnMaxY - c.SpawnMinY},
	}
}

// PlayerSize 碰撞盒
func (c *Config) PlayerSize() world.Size {
	return world.Size{W: c.PlayerWidth, H: c.PlayerHeight}
}

// LoadGrid 没有配置地图时返回 nil
func (c *Config) LoadGrid() (*world.Grid, error) {
	if c.MapFile == "" {
		return nil, nil
	}
	return world.LoadGridFile(c.MapFile, c.MapWidth, c.BlockedTile, c.CellSize)
}

// MoverConfig 无头客户端的本地移动参数，与服务端检查用同一组步长和碰撞盒
func (c *Config) MoverConfig(screen world.Point) world.MoverConfig {
	return world.MoverConfig{
		Step:         c.Step,
		Size:         c.PlayerSize(),
		SyncInterval: c.SyncInterval.Duration,
		Screen:       screen,
	}
}

// MovePolicy 服务端位置检查参数
func (c *Config) MovePolicy(grid *world.Grid) world.MovePolicy {
	return world.MovePolicy{
		Step:      c.Step,
		FrameRate: c.FrameRate,
		Slack:     c.MoveSlack,
		Size:      c.PlayerSize(),
		Grid:      grid,
	}
}
